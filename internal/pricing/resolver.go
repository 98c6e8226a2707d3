// Package pricing converts relative tick offsets into absolute venue price
// levels. Resolution is a pure function of its inputs.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bracketd/internal/domain"
)

// Resolve snaps basePrice to the nearest multiple of tick and derives the
// absolute take-profit and stop prices from the given tick offsets.
//
// Snapping rounds to the nearest tick with ties away from zero, i.e.
// round(base/tick) * tick. For BUY the take-profit sits above the base and
// the stop below; for SELL the signs invert.
func Resolve(basePrice float64, side domain.Side, tpOffset, stopOffset, tick float64) (domain.PriceLevels, error) {
	if tick <= 0 {
		return domain.PriceLevels{}, fmt.Errorf("tick size must be positive, got %v", tick)
	}

	tickD := decimal.NewFromFloat(tick)
	base := decimal.NewFromFloat(basePrice).Div(tickD).Round(0).Mul(tickD)

	tpDelta := decimal.NewFromFloat(tpOffset).Mul(tickD)
	stopDelta := decimal.NewFromFloat(stopOffset).Mul(tickD)

	var tp, stop decimal.Decimal
	switch side {
	case domain.SideBuy:
		tp = base.Add(tpDelta)
		stop = base.Sub(stopDelta)
	case domain.SideSell:
		tp = base.Sub(tpDelta)
		stop = base.Add(stopDelta)
	default:
		return domain.PriceLevels{}, fmt.Errorf("unknown side %q", side)
	}

	return domain.PriceLevels{
		Base:       base.InexactFloat64(),
		TakeProfit: tp.InexactFloat64(),
		Stop:       stop.InexactFloat64(),
	}, nil
}

// SnapToTick rounds price to the nearest multiple of tick, ties away from
// zero. Exposed for venue adapters that need to normalise derived prices.
func SnapToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	tickD := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(price).Div(tickD).Round(0).Mul(tickD).InexactFloat64()
}
