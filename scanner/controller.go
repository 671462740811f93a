package scanner

import (
	"fmt"
	"sync"
	"time"

	"rackscan/camera"
	"rackscan/lifecycle"
	"rackscan/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

const (
	warmupAction = "warmup"
	settleAction = "settle"
)

// scheduled is a named delayed action. A callback whose scheduled value is no
// longer the pending one for its name was superseded and does nothing.
type scheduled struct {
	name  string
	seq   uint64
	timer clock.Timer
}

var _ camera.Events = (*Controller)(nil)

// Controller is one scan session: it owns the camera between Mount and Close
// and emits at most one decoded payload on Decoded.
//
// Device callbacks, lifecycle notifications, focus changes and timer expiries
// are all serialized through mu.
type Controller struct {
	opts     Options
	device   camera.Device
	observer lifecycle.Observer

	mu          sync.Mutex
	id          string
	state       State
	cameraReady bool
	focused     bool
	appState    lifecycle.State
	active      bool
	torch       camera.Torch
	value       string
	accepted    bool
	emitted     bool
	closed      bool
	pending     map[string]*scheduled
	seq         uint64
	unsubscribe func()

	decoded  chan string
	failures chan error
}

// New builds an unmounted session. device may be nil when the host has no
// camera; Mount then reports ErrCapabilityUnavailable.
func New(device camera.Device, observer lifecycle.Observer, opts Options) *Controller {
	return &Controller{
		opts:     opts.withDefaults(),
		device:   device,
		observer: observer,
		id:       uuid.NewString(),
		state:    Unmounted,
		focused:  true,
		appState: lifecycle.Active,
		torch:    camera.TorchOff,
		pending:  make(map[string]*scheduled),
		decoded:  make(chan string, 1),
		failures: make(chan error, 1),
	}
}

func (c *Controller) ID() string { return c.id }

// Decoded yields the accepted payload once, SettleDelay after acceptance.
func (c *Controller) Decoded() <-chan string { return c.decoded }

// Failures yields the hardware runtime error that halted the session.
func (c *Controller) Failures() <-chan error { return c.failures }

// Mount starts the session. Without a device it stays Initializing and
// returns ErrCapabilityUnavailable.
func (c *Controller) Mount() error {
	c.mu.Lock()
	if c.state != Unmounted || c.closed {
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.setStateLocked(Initializing)
	if c.device == nil {
		c.mu.Unlock()
		log.Error().Str("session", c.id).Msg("scanner: no camera device available")
		metrics.SessionsTotal.WithLabelValues("unavailable").Inc()
		return ErrCapabilityUnavailable
	}
	if c.observer != nil {
		c.appState = c.observer.Current()
	}
	c.mu.Unlock()

	var unsubscribe func()
	if c.observer != nil {
		unsubscribe = c.observer.Subscribe(c.lifecycleChanged)
	}

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	if c.opts.Startup.TorchOn {
		c.setTorchLocked(camera.TorchOn)
	}
	if c.opts.Startup.AssumeReady {
		c.cameraReady = true
	}
	if c.observer != nil {
		c.appState = c.observer.Current()
	}
	c.reconcileLocked()
	c.mu.Unlock()

	log.Info().Str("session", c.id).Str("device", c.device.Name()).Bool("torchOnStartup", c.opts.Startup.TorchOn).Bool("assumeReady", c.opts.Startup.AssumeReady).Msg("scanner: session mounted")
	if err := c.device.Start(c); err != nil {
		c.RuntimeError(fmt.Errorf("start device: %w", err))
	}
	return nil
}

// Initialized is the camera ready signal.
func (c *Controller) Initialized() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cameraReady {
		return
	}
	switch c.state {
	case Initializing, Suspended:
		c.cameraReady = true
		log.Debug().Str("session", c.id).Msg("scanner: camera ready")
		c.reconcileLocked()
	}
}

// CodesScanned accepts the first QR payload of the first frame seen while
// Active. Everything else is dropped.
func (c *Controller) CodesScanned(codes []camera.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(codes) == 0 {
		return
	}
	switch {
	case c.accepted:
		metrics.DecodesIgnoredTotal.WithLabelValues("duplicate").Inc()
		return
	case c.state != Active:
		metrics.DecodesIgnoredTotal.WithLabelValues("inactive").Inc()
		return
	}

	first := codes[0]
	if first.Payload == "" {
		metrics.DecodesIgnoredTotal.WithLabelValues("empty").Inc()
		return
	}
	if first.Symbology != camera.SymbologyQR {
		metrics.DecodesIgnoredTotal.WithLabelValues("symbology").Inc()
		log.Debug().Str("session", c.id).Str("symbology", string(first.Symbology)).Msg("scanner: ignoring non-QR code")
		return
	}

	c.accepted = true
	c.value = first.Payload
	c.cancelLocked(warmupAction)
	c.setStateLocked(Completed)
	c.applyPowerLocked()
	log.Info().Str("session", c.id).Str("payload", first.Payload).Dur("settle", c.opts.SettleDelay).Msg("scanner: code accepted")
	c.scheduleLocked(settleAction, c.opts.SettleDelay, c.emitLocked)
}

// RuntimeError halts the session. A value accepted before the fault is still
// emitted.
func (c *Controller) RuntimeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == Unmounted || c.state == Failed {
		log.Debug().Err(err).Str("session", c.id).Msg("scanner: runtime error after teardown ignored")
		return
	}
	wrapped := fmt.Errorf("%w: %w", ErrHardwareRuntime, err)
	c.cancelLocked(warmupAction)
	if c.accepted {
		c.applyPowerLocked()
		log.Warn().Err(err).Str("session", c.id).Msg("scanner: camera fault after acceptance")
		return
	}
	c.setStateLocked(Failed)
	c.applyPowerLocked()
	log.Error().Err(err).Str("session", c.id).Msg("scanner: camera fault; session halted")
	metrics.SessionsTotal.WithLabelValues("failed").Inc()
	select {
	case c.failures <- wrapped:
	default:
	}
}

// SetFocus records whether the hosting screen has focus.
func (c *Controller) SetFocus(focused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.focused = focused
	c.reconcileLocked()
}

func (c *Controller) lifecycleChanged(s lifecycle.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.appState = s
	c.reconcileLocked()
}

// Cancel aborts the session on a back action. It reports false, and does
// nothing, once a value has been accepted or when nothing is mounted.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.accepted || c.state == Unmounted {
		return false
	}
	c.cancelAllLocked()
	c.setStateLocked(Unmounted)
	c.applyPowerLocked()
	c.setTorchLocked(camera.TorchOff)
	metrics.SessionsTotal.WithLabelValues("cancelled").Inc()
	log.Info().Str("session", c.id).Msg("scanner: session cancelled")
	return true
}

// Close releases the lifecycle subscription and the camera. Pending timers,
// including an unsent emission, are dropped.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.cancelAllLocked()
	c.closed = true
	if c.device != nil {
		c.forcePowerLocked(false)
		c.setTorchLocked(camera.TorchOff)
	}
	unsubscribe, device := c.unsubscribe, c.device
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if device == nil {
		return nil
	}
	// The device goroutine may be waiting on mu; Close must run unlocked.
	return device.Close()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:          c.id,
		State:       c.state,
		CameraReady: c.cameraReady,
		Active:      c.active,
		Torch:       c.torch,
		Visible:     c.visibleLocked(),
		Accepted:    c.accepted,
		Value:       c.value,
	}
}

func (c *Controller) visibleLocked() bool {
	return c.focused && c.appState == lifecycle.Active && c.device != nil
}

// reconcileLocked moves between the scanning states and Suspended according
// to visibility, then pushes camera power.
func (c *Controller) reconcileLocked() {
	if c.device == nil {
		return
	}
	visible := c.visibleLocked()
	switch c.state {
	case Initializing, Warming, Active:
		if !visible {
			c.cancelLocked(warmupAction)
			c.setStateLocked(Suspended)
		} else if c.state == Initializing && c.cameraReady {
			c.enterWarmingLocked()
		}
	case Suspended:
		if visible {
			if c.cameraReady {
				c.enterWarmingLocked()
			} else {
				c.setStateLocked(Initializing)
			}
		}
	}
	c.applyPowerLocked()
}

func (c *Controller) enterWarmingLocked() {
	c.setStateLocked(Warming)
	c.setTorchLocked(camera.TorchOff)
	c.scheduleLocked(warmupAction, c.opts.WarmupDelay, func() {
		if c.state != Warming || !c.visibleLocked() {
			return
		}
		c.setStateLocked(Active)
		c.applyPowerLocked()
	})
}

func (c *Controller) emitLocked() {
	if c.emitted {
		return
	}
	c.emitted = true
	metrics.SessionsTotal.WithLabelValues("completed").Inc()
	log.Info().Str("session", c.id).Str("payload", c.value).Msg("scanner: payload emitted")
	c.decoded <- c.value
}

func (c *Controller) applyPowerLocked() {
	want := (c.state == Warming || c.state == Active) && c.visibleLocked()
	if want != c.active {
		c.forcePowerLocked(want)
	}
}

func (c *Controller) forcePowerLocked(active bool) {
	c.active = active
	if active {
		metrics.CameraActive.Set(1)
	} else {
		metrics.CameraActive.Set(0)
	}
	c.device.SetActive(active)
}

func (c *Controller) setTorchLocked(t camera.Torch) {
	if c.torch == t {
		return
	}
	c.torch = t
	if c.device != nil {
		c.device.SetTorch(t)
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	log.Debug().Str("session", c.id).Str("from", string(c.state)).Str("to", string(s)).Msg("scanner: state transition")
	c.state = s
}

// scheduleLocked replaces any pending action of the same name with fn after d.
func (c *Controller) scheduleLocked(name string, d time.Duration, fn func()) {
	c.cancelLocked(name)
	c.seq++
	s := &scheduled{name: name, seq: c.seq}
	c.pending[name] = s
	s.timer = c.opts.Clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.pending[name] != s {
			log.Debug().Str("session", c.id).Str("action", name).Uint64("seq", s.seq).Msg("scanner: stale timer ignored")
			return
		}
		delete(c.pending, name)
		fn()
	})
}

func (c *Controller) cancelLocked(name string) {
	s, ok := c.pending[name]
	if !ok {
		return
	}
	delete(c.pending, name)
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (c *Controller) cancelAllLocked() {
	for name := range c.pending {
		c.cancelLocked(name)
	}
}
