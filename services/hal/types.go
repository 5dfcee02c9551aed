package hal

import (
	"context"
	"time"

	"tinygo.org/x/drivers"

	"envsense-go/types"
)

// Reading is one datum for one capability kind.
type Reading struct {
	Kind    string // "temperature", "humidity", "pressure"
	Payload any    // JSON-serialisable value document
	TsMs    int64  // producer timestamp
}

// Sample is the batch of readings one Collect yields.
type Sample []Reading

// CapInfo describes one capability's retained info document.
type CapInfo struct {
	Kind string // capability kind
	Info types.Info
}

// Adaptor wraps one concrete driver behind generic measurement hooks.
// Adaptors never touch the bus and never spawn goroutines; the worker owns
// all scheduling.
type Adaptor interface {
	ID() string
	// Static capability descriptions (published as retained).
	Capabilities() []CapInfo
	// Trigger starts a measurement; collectAfter hints when Collect will
	// succeed.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	// Collect fetches the batch, or ErrNotReady while converting.
	Collect(ctx context.Context) (Sample, error)
	// Control passes driver-specific methods through; (nil, ErrUnsupported)
	// for anything the adaptor does not implement.
	Control(kind, method string, payload any) (result any, err error)
}

// WorkerConfig bundles the worker's timings and queue limits; zero fields
// take defaults.
type WorkerConfig struct {
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	InputQueueSize int
	ResultsQueueSz int
}

// MeasureReq asks the worker to run one trigger/collect cycle.
type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Prio    bool // true for read_now
}

// Result is the outcome of one measure cycle.
type Result struct {
	ID     string
	Sample Sample
	Err    error
}

// ErrNotReady tells the worker to retry Collect after backoff.
var ErrNotReady = errNotReady{}

type errNotReady struct{}

func (errNotReady) Error() string { return "not ready" }

// ErrUnsupported is the Control reply for unknown methods.
var ErrUnsupported = errUnsupported{}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "unsupported" }

// I2CBusFactory hands out configured I²C buses by id ("i2c0", ...).
type I2CBusFactory interface {
	ByID(id string) (drivers.I2C, bool)
}
