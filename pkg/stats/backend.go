package stats

import (
	"context"
	"time"
)

// Backend is a persistence strategy for the counter state. Load returns
// (nil, nil) when no prior state exists; corrupt state is treated the same
// way by implementations after logging. LogEvent is best-effort and only
// meaningful for the database backend.
type Backend interface {
	Kind() string
	Load() (*CounterState, error)
	Save(*CounterState) error
	LogEvent(ctx context.Context, evt CallEvent) error
}

// CallEvent is one proxied request, appended to the database event log for
// analytics. Failures recording it never surface to the proxied caller.
type CallEvent struct {
	RequestID  string    `json:"request_id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	LatencyMS  int64     `json:"latency_ms"`
	ClientIP   string    `json:"client_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// MemoryBackend keeps counters in memory only. Used on stateless platforms
// where no writable filesystem or database is available; counters reset on
// restart.
type MemoryBackend struct{}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (*MemoryBackend) Kind() string                              { return "memory" }
func (*MemoryBackend) Load() (*CounterState, error)              { return nil, nil }
func (*MemoryBackend) Save(*CounterState) error                  { return nil }
func (*MemoryBackend) LogEvent(context.Context, CallEvent) error { return nil }
