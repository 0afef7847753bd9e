package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SamplingConfig configures log sampling behavior.
type SamplingConfig struct {
	Enabled bool

	// Tick is the interval after which counters reset.
	Tick time.Duration

	// Threshold is the number of identical records passed through per tick before sampling.
	Threshold uint64

	// Rate is the fraction kept after the threshold.
	Rate float64

	// ErrorRate is the fraction kept for warn and above.
	ErrorRate float64

	// MaxCounterSize caps the number of distinct message keys tracked.
	MaxCounterSize int
}

const (
	defaultSamplingTick      = time.Second
	defaultSamplingThreshold = 100
	defaultMaxCounterSize    = 10000
)

// LogsDropped counts records dropped by sampling, by level.
var LogsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scangate",
	Subsystem: "logger",
	Name:      "logs_dropped_total",
	Help:      "Total number of logs dropped by sampling",
}, []string{"level"})

type samplingState struct {
	counters    sync.Map // map[string]*atomic.Uint64
	counterSize atomic.Int64
	lastReset   atomic.Int64
}

type samplingHandler struct {
	handler slog.Handler
	config  SamplingConfig
	state   *samplingState
}

// NewSamplingHandler wraps h so that after Threshold identical level+message records
// in a tick only Rate (ErrorRate for warn and above) of them are written.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick == 0 {
		cfg.Tick = defaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultSamplingThreshold
	}
	if cfg.MaxCounterSize == 0 {
		cfg.MaxCounterSize = defaultMaxCounterSize
	}
	st := &samplingState{}
	st.lastReset.Store(time.Now().UnixNano())
	return &samplingHandler{handler: h, config: cfg, state: st}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.maybeReset()

	if h.state.counterSize.Load() >= int64(h.config.MaxCounterSize) {
		return h.handler.Handle(ctx, r)
	}

	key := r.Level.String() + ":" + r.Message
	val, loaded := h.state.counters.LoadOrStore(key, new(atomic.Uint64))
	if !loaded {
		h.state.counterSize.Add(1)
	}
	count := val.(*atomic.Uint64).Add(1)
	if count <= h.config.Threshold {
		return h.handler.Handle(ctx, r)
	}

	rate := h.config.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.config.ErrorRate
	}
	if sample(count, rate) {
		return h.handler.Handle(ctx, r)
	}
	LogsDropped.WithLabelValues(r.Level.String()).Inc()
	return nil
}

// Derived handlers share counters with the parent.
func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{handler: h.handler.WithAttrs(attrs), config: h.config, state: h.state}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{handler: h.handler.WithGroup(name), config: h.config, state: h.state}
}

func sample(count uint64, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return count%uint64(1.0/rate) == 0
}

func (h *samplingHandler) maybeReset() {
	now := time.Now().UnixNano()
	last := h.state.lastReset.Load()
	if now-last < h.config.Tick.Nanoseconds() {
		return
	}
	if h.state.lastReset.CompareAndSwap(last, now) {
		h.state.counters.Clear()
		h.state.counterSize.Store(0)
	}
}
