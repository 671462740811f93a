package scanner

import (
	"errors"
	"time"

	"rackscan/camera"

	"k8s.io/utils/clock"
)

// State is the phase of a scan session.
type State string

const (
	Unmounted    State = "unmounted"
	Initializing State = "initializing"
	Warming      State = "warming"
	Active       State = "active"
	Completed    State = "completed"
	Suspended    State = "suspended"
	Failed       State = "failed"
)

var (
	// ErrCapabilityUnavailable means no camera handle could be obtained.
	ErrCapabilityUnavailable = errors.New("camera could not be started")
	// ErrHardwareRuntime wraps faults reported by the camera while mounted.
	ErrHardwareRuntime = errors.New("camera runtime error")
	ErrAlreadyMounted  = errors.New("scan session already mounted")
)

const (
	DefaultWarmupDelay = 1000 * time.Millisecond
	DefaultSettleDelay = 500 * time.Millisecond
)

// StartupPolicy compensates for camera driver differences between targets.
// It is hardware-driver compensation, not a feature.
type StartupPolicy struct {
	// TorchOn keeps the torch lit from mount until Warming is entered.
	TorchOn bool
	// AssumeReady treats the camera as initialized at mount for drivers
	// that never deliver a ready signal before the first frame.
	AssumeReady bool
}

// Options tunes a session. A zero delay is honored as zero; start from
// DefaultOptions for the stock timings.
type Options struct {
	// WarmupDelay is the settle time between the ready signal and accepting decodes.
	WarmupDelay time.Duration
	// SettleDelay is the wait between accepting a code and emitting it.
	SettleDelay time.Duration
	Startup     StartupPolicy
	Clock       clock.WithDelayedExecution
}

func DefaultOptions() Options {
	return Options{WarmupDelay: DefaultWarmupDelay, SettleDelay: DefaultSettleDelay}
}

// withDefaults fills the clock and clamps negative delays to zero.
func (o Options) withDefaults() Options {
	if o.WarmupDelay < 0 {
		o.WarmupDelay = 0
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID          string
	State       State
	CameraReady bool
	// Active is the camera power state pushed to the device.
	Active   bool
	Torch    camera.Torch
	Visible  bool
	Accepted bool
	Value    string
}
