package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bracketd/internal/domain"
	"bracketd/internal/ledger"
	"bracketd/internal/settings"
	"bracketd/internal/venue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// shortSettings keeps the lifecycle timeouts small so timeout paths resolve
// within a test run.
const shortSettings = `order_settings:
  timeouts:
    fill_or_cancel: 0.2
    bracket_fill: 0.2
`

func testTimings() Timings {
	return Timings{
		IDPollInterval:   2 * time.Millisecond,
		IDTimeout:        60 * time.Millisecond,
		FillPollInterval: 2 * time.Millisecond,
		RacePollInterval: 2 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, settingsDoc string) (*Engine, *venue.Simulator, *ledger.Ledger) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(settingsDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := settings.New(path, time.Second, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	sim := venue.NewSimulator(testLogger())
	lgr := ledger.New(20, 2.25, testLogger())
	eng := New(sim, store, lgr, testLogger())
	eng.timings = testTimings()
	return eng, sim, lgr
}

func testIntent() domain.OrderIntent {
	return domain.OrderIntent{
		Symbol:           "NQ",
		Side:             domain.SideBuy,
		Quantity:         1,
		LimitPrice:       20100.3,
		TakeProfitOffset: 40,
		StopOffset:       20,
		TrailAmount:      10,
		Unit:             domain.UnitTicks,
		Timeframe:        "5m",
	}
}

func legByType(t *testing.T, sim *venue.Simulator, typ venue.OrderType) venue.OrderView {
	t.Helper()
	for _, o := range sim.Orders() {
		if o.Spec.ParentID != "" && o.Spec.Type == typ {
			return o
		}
	}
	t.Fatalf("no %s exit leg found", typ)
	return venue.OrderView{}
}

func TestPlaceBracketTakeProfitWins(t *testing.T) {
	eng, sim, lgr := newTestEngine(t, shortSettings)
	sim.ScriptParentFill(nil)
	tp := 0.0 // fill the take-profit leg at its own limit
	sim.ScriptExitFills(&tp, nil)

	res, err := eng.PlaceBracket(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("PlaceBracket: %v", err)
	}

	if res.ParentOrderID != "SIM-1" {
		t.Errorf("ParentOrderID = %q, want SIM-1", res.ParentOrderID)
	}
	if res.ParentFillPrice != 20100.25 {
		t.Errorf("ParentFillPrice = %v, want 20100.25", res.ParentFillPrice)
	}
	if res.ChildKind != domain.ChildTakeProfit {
		t.Errorf("ChildKind = %q, want takeProfit", res.ChildKind)
	}
	if res.ChildFillPrice != 20110.25 {
		t.Errorf("ChildFillPrice = %v, want 20110.25", res.ChildFillPrice)
	}

	// The losing trailing-stop leg is cancelled.
	ts := legByType(t, sim, venue.TypeTrailingStopLimit)
	if ts.State != venue.StateCancelled {
		t.Errorf("trailing-stop state = %q, want Cancelled", ts.State)
	}

	if lgr.Len() != 1 {
		t.Fatalf("ledger entries = %d, want 1", lgr.Len())
	}
	entry := lgr.Entries()[0]
	if want := 10*20 - 2.25*2; entry.Profit != want {
		t.Errorf("entry.Profit = %v, want %v", entry.Profit, want)
	}
	if entry.Result != ledger.ResultProfit {
		t.Errorf("entry.Result = %q, want Profit", entry.Result)
	}
	if entry.HitType != domain.ChildTakeProfit || entry.Timeframe != "5m" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestPlaceBracketLegSpecs(t *testing.T) {
	eng, sim, _ := newTestEngine(t, shortSettings)
	sim.ScriptParentFill(nil)
	tp := 0.0
	sim.ScriptExitFills(&tp, nil)

	if _, err := eng.PlaceBracket(context.Background(), testIntent()); err != nil {
		t.Fatalf("PlaceBracket: %v", err)
	}

	tpLeg := legByType(t, sim, venue.TypeLimit)
	if tpLeg.Spec.Side != domain.SideSell {
		t.Errorf("take-profit side = %q, want SELL", tpLeg.Spec.Side)
	}
	if tpLeg.Spec.LimitPrice != 20110.25 {
		t.Errorf("take-profit limit = %v, want 20110.25", tpLeg.Spec.LimitPrice)
	}
	if tpLeg.Spec.ParentID != "SIM-1" {
		t.Errorf("take-profit parent = %q, want SIM-1", tpLeg.Spec.ParentID)
	}
	// With both legs enabled the trailing stop carries the transmit flag.
	if tpLeg.Spec.Transmit {
		t.Error("take-profit leg transmits despite a trailing stop being present")
	}

	tsLeg := legByType(t, sim, venue.TypeTrailingStopLimit)
	if !tsLeg.Spec.Transmit {
		t.Error("trailing-stop leg does not transmit")
	}
	if tsLeg.Spec.TrailTrigger != 20095.25 {
		t.Errorf("trail trigger = %v, want 20095.25", tsLeg.Spec.TrailTrigger)
	}
	if tsLeg.Spec.TrailAmount != 10 {
		t.Errorf("trail amount = %v, want 10", tsLeg.Spec.TrailAmount)
	}
	if tsLeg.Spec.LimitOffset != 1.0 { // 4 ticks of 0.25
		t.Errorf("limit offset = %v, want 1.0", tsLeg.Spec.LimitOffset)
	}
}

func TestPlaceBracketTrailingStopWins(t *testing.T) {
	eng, sim, lgr := newTestEngine(t, shortSettings)
	sim.ScriptParentFill(nil)
	tsFill := 20096.0
	sim.ScriptExitFills(nil, &tsFill)

	res, err := eng.PlaceBracket(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("PlaceBracket: %v", err)
	}
	if res.ChildKind != domain.ChildTrailingStop {
		t.Errorf("ChildKind = %q, want trailingStop", res.ChildKind)
	}
	if res.ChildFillPrice != tsFill {
		t.Errorf("ChildFillPrice = %v, want %v", res.ChildFillPrice, tsFill)
	}

	tpLeg := legByType(t, sim, venue.TypeLimit)
	if tpLeg.State != venue.StateCancelled {
		t.Errorf("take-profit state = %q, want Cancelled", tpLeg.State)
	}

	entry := lgr.Entries()[0]
	if entry.Result != ledger.ResultLoss {
		t.Errorf("entry.Result = %q, want Loss (profit %v)", entry.Result, entry.Profit)
	}
}

func TestPlaceBracketTieBreakPrefersTakeProfit(t *testing.T) {
	eng, sim, _ := newTestEngine(t, shortSettings)
	sim.ScriptParentFill(nil)
	// Both legs fill in the same instant the group activates; the winner
	// must still be the take-profit leg.
	tp := 0.0
	tsFill := 20096.0
	sim.ScriptExitFills(&tp, &tsFill)

	res, err := eng.PlaceBracket(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("PlaceBracket: %v", err)
	}
	if res.ChildKind != domain.ChildTakeProfit {
		t.Errorf("ChildKind = %q, want takeProfit on simultaneous fills", res.ChildKind)
	}
	if res.ChildFillPrice != 20110.25 {
		t.Errorf("ChildFillPrice = %v, want 20110.25", res.ChildFillPrice)
	}
}

func TestPlaceBracketNoOrderID(t *testing.T) {
	eng, sim, lgr := newTestEngine(t, shortSettings)
	sim.WithholdIDs(true)

	_, err := eng.PlaceBracket(context.Background(), testIntent())
	if !errors.Is(err, domain.ErrNoOrderID) {
		t.Fatalf("err = %v, want ErrNoOrderID", err)
	}
	var be *domain.BracketError
	if !errors.As(err, &be) || be.Stage != domain.StageAwaitParentID {
		t.Errorf("stage = %v, want %v", be, domain.StageAwaitParentID)
	}
	if lgr.Len() != 0 {
		t.Errorf("ledger entries = %d, want 0", lgr.Len())
	}
}

func TestPlaceBracketParentTimeout(t *testing.T) {
	eng, sim, lgr := newTestEngine(t, shortSettings)
	// No scripted parent fill: the entry sits working past the
	// fill-or-cancel deadline.

	_, err := eng.PlaceBracket(context.Background(), testIntent())
	if !errors.Is(err, domain.ErrParentTimeout) {
		t.Fatalf("err = %v, want ErrParentTimeout", err)
	}

	orders := sim.Orders()
	if len(orders) != 1 {
		t.Fatalf("venue orders = %d, want only the parent", len(orders))
	}
	if orders[0].State != venue.StateCancelled {
		t.Errorf("parent state = %q, want Cancelled", orders[0].State)
	}
	if lgr.Len() != 0 {
		t.Errorf("ledger entries = %d, want 0", lgr.Len())
	}
}

func TestPlaceBracketTimeoutLeavesLegsLive(t *testing.T) {
	eng, sim, lgr := newTestEngine(t, shortSettings)
	sim.ScriptParentFill(nil)
	// No exit fills scripted: the race runs out the bracket timeout.

	_, err := eng.PlaceBracket(context.Background(), testIntent())
	if !errors.Is(err, domain.ErrBracketTimeout) {
		t.Fatalf("err = %v, want ErrBracketTimeout", err)
	}
	var be *domain.BracketError
	if !errors.As(err, &be) {
		t.Fatal("err is not a BracketError")
	}
	if !be.ParentFilled || be.ParentFill != 20100.25 {
		t.Errorf("BracketError parent fill = (%v, %v), want (true, 20100.25)", be.ParentFilled, be.ParentFill)
	}

	// Default policy: the legs stay live at the venue.
	for _, typ := range []venue.OrderType{venue.TypeLimit, venue.TypeTrailingStopLimit} {
		leg := legByType(t, sim, typ)
		if leg.State != venue.StateWorking {
			t.Errorf("%s leg state = %q, want Working", typ, leg.State)
		}
	}
	if lgr.Len() != 0 {
		t.Errorf("ledger entries = %d, want 0", lgr.Len())
	}
}

func TestPlaceBracketTimeoutCancelsLegsPerPolicy(t *testing.T) {
	doc := shortSettings + "  cancel_legs_on_timeout: true\n"
	eng, sim, _ := newTestEngine(t, doc)
	sim.ScriptParentFill(nil)

	_, err := eng.PlaceBracket(context.Background(), testIntent())
	if !errors.Is(err, domain.ErrBracketTimeout) {
		t.Fatalf("err = %v, want ErrBracketTimeout", err)
	}
	for _, typ := range []venue.OrderType{venue.TypeLimit, venue.TypeTrailingStopLimit} {
		leg := legByType(t, sim, typ)
		if leg.State != venue.StateCancelled {
			t.Errorf("%s leg state = %q, want Cancelled per policy", typ, leg.State)
		}
	}
}

func TestPlaceBracketNoExitLegsConfigured(t *testing.T) {
	doc := `order_settings:
  use_take_profit: false
  use_trailing_stop: false
`
	eng, sim, _ := newTestEngine(t, doc)

	_, err := eng.PlaceBracket(context.Background(), testIntent())
	if !errors.Is(err, domain.ErrNoExitLegsConfigured) {
		t.Fatalf("err = %v, want ErrNoExitLegsConfigured", err)
	}
	if n := len(sim.Orders()); n != 0 {
		t.Errorf("venue orders = %d, want 0 before any submission", n)
	}
}

func TestPlaceBracketTakeProfitOnly(t *testing.T) {
	doc := shortSettings + "  use_trailing_stop: false\n"
	eng, sim, _ := newTestEngine(t, doc)
	sim.ScriptParentFill(nil)
	tp := 0.0
	sim.ScriptExitFills(&tp, nil)

	res, err := eng.PlaceBracket(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("PlaceBracket: %v", err)
	}
	if res.ChildKind != domain.ChildTakeProfit {
		t.Errorf("ChildKind = %q, want takeProfit", res.ChildKind)
	}
	if n := len(sim.Orders()); n != 2 {
		t.Fatalf("venue orders = %d, want parent plus one leg", n)
	}
	// A sole take-profit leg must transmit the group itself.
	tpLeg := legByType(t, sim, venue.TypeLimit)
	if !tpLeg.Spec.Transmit {
		t.Error("sole take-profit leg does not transmit")
	}
}

func TestPlaceBracketValidation(t *testing.T) {
	eng, sim, _ := newTestEngine(t, shortSettings)

	bad := testIntent()
	bad.Quantity = 0
	if _, err := eng.PlaceBracket(context.Background(), bad); !errors.Is(err, domain.ErrInvalidIntent) {
		t.Errorf("zero quantity err = %v, want ErrInvalidIntent", err)
	}

	percent := testIntent()
	percent.Unit = domain.UnitPercent
	if _, err := eng.PlaceBracket(context.Background(), percent); !errors.Is(err, domain.ErrUnsupportedOffsetUnit) {
		t.Errorf("percent unit err = %v, want ErrUnsupportedOffsetUnit", err)
	}

	if n := len(sim.Orders()); n != 0 {
		t.Errorf("venue orders = %d, want 0 for rejected intents", n)
	}
}

func TestPlaceBracketInstrumentNotFound(t *testing.T) {
	eng, sim, _ := newTestEngine(t, shortSettings)
	sim.FailResolution("NQ")

	_, err := eng.PlaceBracket(context.Background(), testIntent())
	if !errors.Is(err, domain.ErrInstrumentNotFound) {
		t.Fatalf("err = %v, want ErrInstrumentNotFound", err)
	}
	var be *domain.BracketError
	if !errors.As(err, &be) || be.Stage != domain.StageResolve {
		t.Errorf("stage = %v, want %v", be, domain.StageResolve)
	}
}

func TestPlaceBracketSettingsOverrides(t *testing.T) {
	doc := shortSettings + `  overrides:
    quantity: 2
    stop_loss: 30
    take_profit: 60
`
	eng, sim, _ := newTestEngine(t, doc)
	sim.ScriptParentFill(nil)
	tp := 0.0
	sim.ScriptExitFills(&tp, nil)

	res, err := eng.PlaceBracket(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("PlaceBracket: %v", err)
	}

	var parent venue.OrderView
	for _, o := range sim.Orders() {
		if o.Spec.ParentID == "" {
			parent = o
		}
	}
	if parent.Spec.Quantity != 2 {
		t.Errorf("parent quantity = %d, want override 2", parent.Spec.Quantity)
	}

	// 60 ticks above and 30 ticks below the snapped base of 20100.25.
	tpLeg := legByType(t, sim, venue.TypeLimit)
	if tpLeg.Spec.LimitPrice != 20115.25 {
		t.Errorf("take-profit limit = %v, want 20115.25", tpLeg.Spec.LimitPrice)
	}
	if tpLeg.Spec.Quantity != 2 {
		t.Errorf("take-profit quantity = %d, want 2", tpLeg.Spec.Quantity)
	}
	tsLeg := legByType(t, sim, venue.TypeTrailingStopLimit)
	if tsLeg.Spec.TrailTrigger != 20092.75 {
		t.Errorf("trail trigger = %v, want 20092.75", tsLeg.Spec.TrailTrigger)
	}
	if res.ChildFillPrice != 20115.25 {
		t.Errorf("ChildFillPrice = %v, want 20115.25", res.ChildFillPrice)
	}
}

func TestSettingsChangeAppliesToLaterBracketsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(shortSettings), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := settings.New(path, time.Second, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	sim := venue.NewSimulator(testLogger())
	lgr := ledger.New(20, 2.25, testLogger())
	eng := New(sim, store, lgr, testLogger())
	eng.timings = testTimings()

	sim.ScriptParentFill(nil)
	tp := 0.0
	sim.ScriptExitFills(&tp, nil)

	if _, err := eng.PlaceBracket(context.Background(), testIntent()); err != nil {
		t.Fatalf("first PlaceBracket: %v", err)
	}
	if n := len(sim.Orders()); n != 3 {
		t.Fatalf("orders after first bracket = %d, want 3", n)
	}

	// Disabling the trailing stop between brackets affects only the next
	// one: the snapshot is read once per intent.
	if err := store.Update(map[string]any{"order_settings.use_trailing_stop": false}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := eng.PlaceBracket(context.Background(), testIntent()); err != nil {
		t.Fatalf("second PlaceBracket: %v", err)
	}
	if n := len(sim.Orders()); n != 5 {
		t.Fatalf("orders after second bracket = %d, want 5 (no trailing stop)", n)
	}
	if lgr.Len() != 2 {
		t.Errorf("ledger entries = %d, want 2", lgr.Len())
	}
}

func TestPlaceBracketContextCancelled(t *testing.T) {
	eng, sim, _ := newTestEngine(t, shortSettings)
	sim.ScriptParentFill(nil)
	// No exit fills: the race would block until the bracket timeout, but
	// cancelling the context aborts it first.

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.PlaceBracket(ctx, testIntent())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
