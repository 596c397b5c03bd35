// Package observability bridges the engines' structured events into the
// prometheus counters exported by the node.
package observability

import (
	"log/slog"
	"math/big"

	"termlend/core/events"
	"termlend/core/types"
	"termlend/observability/metrics"
)

// MetricsEmitter wraps another emitter and records a metric for every event
// that passes through it. Wiring it between the engines and the real emitter
// keeps the engines free of metrics code.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter decorates next with metric recording. A nil next is
// treated as a no-op sink.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &MetricsEmitter{next: next}
}

func (m *MetricsEmitter) Emit(evt events.Event) {
	reg := metrics.Market()
	switch e := evt.(type) {
	case events.OrderPlaced:
		reg.ObserveOrderPlaced(e.Side)
	case events.OrderMatched:
		reg.ObserveOrderMatched(e.Side)
		reg.ObserveMatchedVolume(e.Rate.String(), bigFloat(e.MatchedAmount))
	case events.OrderCancelled:
		reg.ObserveOrderCancelled(e.Side)
	case events.InterestAccrued:
		reg.ObserveInterestAccrued(e.Rate.String(), bigFloat(e.Interest))
	case events.Liquidated:
		reg.ObserveLiquidation()
	}
	m.next.Emit(evt)
}

// SlogEmitter writes every event as one structured log line. It is the usual
// terminal sink behind a MetricsEmitter.
type SlogEmitter struct {
	logger *slog.Logger
}

func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

func (s *SlogEmitter) Emit(evt events.Event) {
	type payloader interface {
		Event() *types.Event
	}
	p, ok := evt.(payloader)
	if !ok {
		s.logger.Info("event", "type", evt.EventType())
		return
	}
	payload := p.Event()
	attrs := make([]any, 0, 2+2*len(payload.Attributes))
	attrs = append(attrs, "type", payload.Type)
	for k, v := range payload.Attributes {
		attrs = append(attrs, k, v)
	}
	s.logger.Info("event", attrs...)
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
