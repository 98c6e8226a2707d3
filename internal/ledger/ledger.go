// Package ledger keeps the append-only in-memory record of completed
// brackets and owns the realized P&L arithmetic.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bracketd/internal/domain"
)

// Result classifies a realized P&L.
type Result string

const (
	ResultProfit  Result = "Profit"
	ResultLoss    Result = "Loss"
	ResultNeutral Result = "Neutral"
)

// Entry is the immutable record of one completed bracket. Construction in
// Record is the only place P&L arithmetic happens.
type Entry struct {
	ID                    string           `json:"id"`
	Timestamp             time.Time        `json:"timestamp"`
	Symbol                string           `json:"symbol"`
	Side                  domain.Side      `json:"side"`
	Contracts             int              `json:"contracts"`
	ParentFillPrice       float64          `json:"parentFillPrice"`
	ChildFillPrice        float64          `json:"childFillPrice"`
	CommissionPerContract float64          `json:"commissionPerContract"`
	Timeframe             string           `json:"timeframe"`
	HitType               domain.ChildKind `json:"hitType"`
	Profit                float64          `json:"profit"`
	Result                Result           `json:"result"`
}

// Ledger is an append-only store of entries in insertion order. Entries are
// never mutated after being appended and live only for the process
// lifetime.
type Ledger struct {
	tickValue  decimal.Decimal
	commission decimal.Decimal
	log        *slog.Logger

	mu      sync.RWMutex
	entries []Entry
}

// New creates a Ledger using the given dollar value per price point and
// commission per contract per leg.
func New(tickValue, commissionPerContract float64, log *slog.Logger) *Ledger {
	return &Ledger{
		tickValue:  decimal.NewFromFloat(tickValue),
		commission: decimal.NewFromFloat(commissionPerContract),
		log:        log,
	}
}

// Record computes the realized outcome of a completed bracket and appends
// it.
//
// The point profit is directional: for BUY it is childFill - parentFill,
// for SELL the inverse. Realized P&L is
//
//	round(profit, 2) * qty * tickValue - commission * qty * 2
//
// with two commission legs (entry and exit). Classification uses the
// realized value; exactly zero is Neutral.
func (l *Ledger) Record(intent domain.OrderIntent, qty int, parentFill, childFill float64, kind domain.ChildKind) Entry {
	profit := pointProfit(intent.Side, parentFill, childFill)

	qtyD := decimal.NewFromInt(int64(qty))
	realized := profit.Round(2).
		Mul(qtyD).
		Mul(l.tickValue).
		Sub(l.commission.Mul(qtyD).Mul(decimal.NewFromInt(2)))

	entry := Entry{
		ID:                    uuid.NewString(),
		Timestamp:             time.Now().UTC(),
		Symbol:                intent.Symbol,
		Side:                  intent.Side,
		Contracts:             qty,
		ParentFillPrice:       parentFill,
		ChildFillPrice:        childFill,
		CommissionPerContract: l.commission.InexactFloat64(),
		Timeframe:             intent.Timeframe,
		HitType:               kind,
		Profit:                realized.InexactFloat64(),
		Result:                classify(realized),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.log.Info("trade recorded",
		"symbol", entry.Symbol, "side", entry.Side, "hit", entry.HitType,
		"parent_fill", entry.ParentFillPrice, "child_fill", entry.ChildFillPrice,
		"profit", entry.Profit, "result", entry.Result)
	return entry
}

// Entries returns a copy of all entries in insertion order.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func pointProfit(side domain.Side, parentFill, childFill float64) decimal.Decimal {
	parent := decimal.NewFromFloat(parentFill)
	child := decimal.NewFromFloat(childFill)
	if side == domain.SideBuy {
		return child.Sub(parent)
	}
	return parent.Sub(child)
}

func classify(realized decimal.Decimal) Result {
	switch realized.Sign() {
	case 1:
		return ResultProfit
	case -1:
		return ResultLoss
	default:
		return ResultNeutral
	}
}
