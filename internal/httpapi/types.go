package httpapi

import (
	"bracketd/internal/domain"
)

// signalRequest is the inbound webhook payload. stopLoss, timeframe and
// relativeType carry defaults when omitted; stopLoss is a pointer so that
// an explicit zero can be told apart from an absent field.
type signalRequest struct {
	Symbol       string   `json:"symbol"`
	Action       string   `json:"action"`
	Quantity     int      `json:"quantity"`
	LimitPrice   float64  `json:"limitPrice"`
	TakeProfit   float64  `json:"takeProfit"`
	TrailAmt     float64  `json:"trailAmt"`
	StopLoss     *float64 `json:"stopLoss"`
	Timeframe    string   `json:"timeframe"`
	RelativeType string   `json:"relativeType"`
}

const (
	defaultStopLoss     = 20.0
	defaultTimeframe    = "None"
	defaultRelativeType = "ticks"
)

// toIntent applies the payload defaults and produces the immutable intent.
func (r signalRequest) toIntent() domain.OrderIntent {
	stopLoss := defaultStopLoss
	if r.StopLoss != nil {
		stopLoss = *r.StopLoss
	}
	timeframe := r.Timeframe
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	unit := r.RelativeType
	if unit == "" {
		unit = defaultRelativeType
	}
	return domain.OrderIntent{
		Symbol:           r.Symbol,
		Side:             domain.Side(r.Action),
		Quantity:         r.Quantity,
		LimitPrice:       r.LimitPrice,
		TakeProfitOffset: r.TakeProfit,
		StopOffset:       stopLoss,
		TrailAmount:      r.TrailAmt,
		Unit:             domain.OffsetUnit(unit),
		Timeframe:        timeframe,
	}
}

// errorResponse is the wire shape of every failure.
type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}
