package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// FrameDevice is a Device that pulls frames from a FrameSource while powered
// and decodes them. Frames are pulled at most fps times per second.
type FrameDevice struct {
	name    string
	source  FrameSource
	decoder *Decoder
	limiter *rate.Limiter

	mu     sync.Mutex
	active bool
	torch  Torch
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

func NewFrameDevice(name string, source FrameSource, fps float64) *FrameDevice {
	if fps <= 0 {
		fps = 5
	}
	return &FrameDevice{
		name:    name,
		source:  source,
		decoder: NewDecoder(),
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		torch:   TorchOff,
		wake:    make(chan struct{}, 1),
	}
}

func (d *FrameDevice) Name() string { return d.name }

// Start opens the source on a background goroutine and reports readiness or
// failure through events.
func (d *FrameDevice) Start(events Events) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, events)
	return nil
}

func (d *FrameDevice) run(ctx context.Context, events Events) {
	defer close(d.done)

	if err := d.source.Open(ctx); err != nil {
		if ctx.Err() == nil {
			events.RuntimeError(fmt.Errorf("open frame source: %w", err))
		}
		return
	}
	log.Debug().Str("device", d.name).Msg("camera: device initialized")
	events.Initialized()

	for {
		if !d.IsActive() {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if !d.IsActive() {
			continue
		}

		img, err := d.source.NextFrame(ctx)
		if errors.Is(err, ErrNoFrame) {
			continue
		}
		if errors.Is(err, ErrBadFrame) {
			log.Debug().Err(err).Str("device", d.name).Msg("camera: bad frame skipped")
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			events.RuntimeError(err)
			return
		}

		codes, err := d.decoder.Decode(img)
		if err != nil {
			log.Debug().Err(err).Str("device", d.name).Msg("camera: frame skipped")
			continue
		}
		if len(codes) > 0 && d.IsActive() {
			events.CodesScanned(codes)
		}
	}
}

func (d *FrameDevice) SetActive(active bool) {
	d.mu.Lock()
	changed := d.active != active
	d.active = active
	d.mu.Unlock()
	if !changed {
		return
	}
	log.Debug().Str("device", d.name).Bool("active", active).Msg("camera: power changed")
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *FrameDevice) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *FrameDevice) SetTorch(t Torch) {
	d.mu.Lock()
	d.torch = t
	d.mu.Unlock()
	log.Debug().Str("device", d.name).Str("torch", string(t)).Msg("camera: torch changed")
}

func (d *FrameDevice) Torch() Torch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.torch
}

// Close stops the capture goroutine and waits for it to exit.
func (d *FrameDevice) Close() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.active = false
	d.mu.Unlock()
	if cancel == nil {
		return d.source.Close()
	}
	cancel()
	<-done
	return d.source.Close()
}
