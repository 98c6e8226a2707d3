package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bracketd/internal/config"
	"bracketd/internal/domain"
	"bracketd/internal/util"
)

// Compile-time interface check.
var _ Client = (*Alpaca)(nil)

// Alpaca implements Client against the Alpaca trading API.
//
// The mapping is best-effort where the venue lacks a native concept:
//   - Alpaca has no transmit flag, so group holdback is emulated client-side:
//     exit legs submitted with Transmit unset are buffered and only sent to
//     the venue when the transmitting leg of their group arrives. Entry
//     orders are sent immediately.
//   - Parent-link ids are not forwarded; the engine supervises the legs and
//     cancels the loser itself, which makes venue-side OCA unnecessary.
//   - Trailing-stop-limit maps to Alpaca's trailing_stop with the trailing
//     amount as trail price; the initial trigger and limit offset have no
//     venue equivalent and are dropped.
type Alpaca struct {
	client  *alpaca.Client
	trading config.Trading
	limiter *util.RateLimiter
	log     *slog.Logger

	keepAlive time.Duration
	connected atomic.Bool

	mu     sync.Mutex
	held   map[string]heldOrder // client id -> buffered exit leg
	groups map[string][]string  // parent id -> buffered client ids
	placed map[string]string    // client id -> alpaca order id
}

type heldOrder struct {
	inst Instrument
	spec OrderSpec
}

// NewAlpaca creates an Alpaca venue client from the given configuration.
func NewAlpaca(cfg config.Venue, trading config.Trading, log *slog.Logger) *Alpaca {
	a := &Alpaca{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		trading:   trading,
		limiter:   util.NewRateLimiter(cfg.StatusPollPerMin),
		log:       log,
		keepAlive: time.Duration(cfg.KeepAliveSeconds) * time.Second,
		held:      make(map[string]heldOrder),
		groups:    make(map[string][]string),
		placed:    make(map[string]string),
	}
	return a
}

// KeepAlive probes the venue connection until ctx is cancelled, updating
// the state reported by IsConnected. Reconnection is the transport's
// concern; this loop only observes it.
func (a *Alpaca) KeepAlive(ctx context.Context) error {
	a.probe(ctx)
	ticker := time.NewTicker(a.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.probe(ctx)
		}
	}
}

func (a *Alpaca) probe(ctx context.Context) {
	err := util.Retry(ctx, 3, time.Second, func() error {
		_, err := a.client.GetAccount()
		return err
	})
	was := a.connected.Swap(err == nil)
	switch {
	case err != nil && was:
		a.log.Warn("venue connection lost", "error", err)
	case err == nil && !was:
		a.log.Info("venue connection up")
	}
}

// ResolveInstrument qualifies the symbol (applying configured aliases such
// as NQ1! -> NQ) against the venue's asset catalogue.
func (a *Alpaca) ResolveInstrument(_ context.Context, symbol string) (Instrument, error) {
	venueSymbol := a.trading.ResolveAlias(symbol)
	asset, err := a.client.GetAsset(venueSymbol)
	if err != nil {
		return Instrument{}, fmt.Errorf("%w: %s: %v", domain.ErrInstrumentNotFound, venueSymbol, err)
	}
	if !asset.Tradable {
		return Instrument{}, fmt.Errorf("%w: %s is not tradable", domain.ErrInstrumentNotFound, venueSymbol)
	}
	return Instrument{
		Symbol:   venueSymbol,
		TickSize: a.trading.TickSizeFor(venueSymbol),
	}, nil
}

// Submit places or buffers an order per the transmit emulation described on
// the type.
func (a *Alpaca) Submit(_ context.Context, inst Instrument, spec OrderSpec) (OrderHandle, error) {
	if !a.connected.Load() {
		return OrderHandle{}, fmt.Errorf("%w: alpaca connection down", domain.ErrVenueUnavailable)
	}
	clientID := uuid.NewString()

	if spec.ParentID != "" && !spec.Transmit {
		a.mu.Lock()
		a.held[clientID] = heldOrder{inst: inst, spec: spec}
		a.groups[spec.ParentID] = append(a.groups[spec.ParentID], clientID)
		a.mu.Unlock()
		a.log.Debug("order buffered until group transmit", "client_id", clientID, "parent", spec.ParentID)
		return OrderHandle{ClientID: clientID}, nil
	}

	if spec.ParentID != "" && spec.Transmit {
		if err := a.flushGroup(spec.ParentID); err != nil {
			return OrderHandle{}, err
		}
	}

	if err := a.placeOne(clientID, inst, spec); err != nil {
		return OrderHandle{}, err
	}
	return OrderHandle{ClientID: clientID}, nil
}

// flushGroup places every buffered leg of the group.
func (a *Alpaca) flushGroup(parentID string) error {
	a.mu.Lock()
	ids := a.groups[parentID]
	delete(a.groups, parentID)
	legs := make([]heldOrder, 0, len(ids))
	clientIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if leg, ok := a.held[id]; ok {
			legs = append(legs, leg)
			clientIDs = append(clientIDs, id)
			delete(a.held, id)
		}
	}
	a.mu.Unlock()

	for i, leg := range legs {
		if err := a.placeOne(clientIDs[i], leg.inst, leg.spec); err != nil {
			return fmt.Errorf("transmitting buffered leg: %w", err)
		}
	}
	return nil
}

func (a *Alpaca) placeOne(clientID string, inst Instrument, spec OrderSpec) error {
	qty := decimal.NewFromInt(int64(spec.Quantity))
	req := alpaca.PlaceOrderRequest{
		Symbol:        inst.Symbol,
		Qty:           &qty,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: clientID,
	}
	if spec.Side == domain.SideBuy {
		req.Side = alpaca.Buy
	} else {
		req.Side = alpaca.Sell
	}

	switch spec.Type {
	case TypeLimit:
		limit := decimal.NewFromFloat(spec.LimitPrice)
		req.Type = alpaca.Limit
		req.LimitPrice = &limit
	case TypeTrailingStopLimit:
		trail := decimal.NewFromFloat(spec.TrailAmount)
		req.Type = alpaca.TrailingStop
		req.TrailPrice = &trail
	default:
		return fmt.Errorf("unsupported order type %q", spec.Type)
	}

	order, err := a.client.PlaceOrder(req)
	if err != nil {
		return fmt.Errorf("placing %s order: %w", spec.Type, err)
	}

	a.mu.Lock()
	a.placed[clientID] = order.ID
	a.mu.Unlock()

	a.log.Info("order placed",
		"client_id", clientID, "order_id", order.ID,
		"symbol", inst.Symbol, "type", spec.Type, "side", spec.Side, "qty", spec.Quantity)
	return nil
}

// Cancel is idempotent: buffered legs are dropped, done orders are left
// alone, and venue-side "already done" rejections are treated as success.
func (a *Alpaca) Cancel(_ context.Context, h OrderHandle) error {
	a.mu.Lock()
	if leg, ok := a.held[h.ClientID]; ok {
		delete(a.held, h.ClientID)
		ids := a.groups[leg.spec.ParentID]
		for i, id := range ids {
			if id == h.ClientID {
				a.groups[leg.spec.ParentID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		a.mu.Unlock()
		return nil
	}
	orderID, ok := a.placed[h.ClientID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown order %s", h.ClientID)
	}

	if err := a.client.CancelOrder(orderID); err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 404 || apiErr.StatusCode == 422) {
			// Already filled, cancelled, or unknown to the venue.
			return nil
		}
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// Status polls the venue for the order's state, throttled by the configured
// rate limit. Buffered legs report as working with no id.
func (a *Alpaca) Status(ctx context.Context, h OrderHandle) (OrderStatus, error) {
	a.mu.Lock()
	_, buffered := a.held[h.ClientID]
	a.mu.Unlock()
	if buffered {
		return OrderStatus{State: StateWorking}, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return OrderStatus{}, err
	}
	order, err := a.client.GetOrderByClientOrderID(h.ClientID)
	if err != nil {
		return OrderStatus{}, fmt.Errorf("polling order %s: %w", h.ClientID, err)
	}

	st := OrderStatus{ID: order.ID, State: mapAlpacaStatus(order.Status)}
	if order.FilledAvgPrice != nil {
		st.AvgFillPrice = order.FilledAvgPrice.InexactFloat64()
	}
	return st, nil
}

func mapAlpacaStatus(status string) OrderState {
	switch status {
	case "filled":
		return StateFilled
	case "canceled", "expired", "done_for_day", "stopped":
		return StateCancelled
	case "rejected", "suspended":
		return StateRejected
	default:
		// new, accepted, pending_new, partially_filled, pending_cancel, ...
		return StateWorking
	}
}

// CancelAllOpen issues a venue-wide cancel of open orders.
func (a *Alpaca) CancelAllOpen(_ context.Context) error {
	if err := a.client.CancelAllOrders(); err != nil {
		return fmt.Errorf("cancelling all open orders: %w", err)
	}
	return nil
}

// IsConnected reports the state observed by the keep-alive loop.
func (a *Alpaca) IsConnected() bool {
	return a.connected.Load()
}
