package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Outcome is the resolved state of the camera capability.
type Outcome int

const (
	Granted Outcome = iota
	Limited
	Denied
	Blocked
	Unsupported
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Limited:
		return "limited"
	case Denied:
		return "denied"
	case Blocked:
		return "blocked"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Authorized reports whether a scan session may be mounted.
func (o Outcome) Authorized() bool { return o == Granted || o == Limited }

func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return Granted, nil
	case "limited":
		return Limited, nil
	case "denied":
		return Denied, nil
	case "blocked":
		return Blocked, nil
	case "unsupported", "unavailable":
		return Unsupported, nil
	}
	return Denied, fmt.Errorf("unknown permission outcome %q", s)
}

// Gate checks and, when needed, requests the camera capability.
type Gate interface {
	// RequestCameraAccess resolves once per call. Missing hardware is the
	// Unsupported outcome, not an error; an error means ctx ended first.
	RequestCameraAccess(ctx context.Context) (Outcome, error)
}

// Prompter shows the OS permission dialog and returns the user's answer.
type Prompter interface {
	Prompt(ctx context.Context) (Outcome, error)
}

// StaticPrompter answers every prompt with the same outcome.
type StaticPrompter struct {
	Answer Outcome
}

func (p StaticPrompter) Prompt(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Denied, err
	}
	return p.Answer, nil
}

var _ Gate = (*DeviceGate)(nil)

// DeviceGate remembers the determined status and only prompts while it is
// undetermined or denied. Consecutive denials reaching maxDenials block it.
type DeviceGate struct {
	hasCamera  func() bool
	prompter   Prompter
	maxDenials int

	mu         sync.Mutex
	status     Outcome
	determined bool
	denials    int
}

func NewDeviceGate(hasCamera func() bool, prompter Prompter, maxDenials int) *DeviceGate {
	return &DeviceGate{hasCamera: hasCamera, prompter: prompter, maxDenials: maxDenials}
}

// RequestCameraAccess prompts with the gate unlocked. A final status recorded
// by a concurrent request while this one was prompting wins over its answer.
func (g *DeviceGate) RequestCameraAccess(ctx context.Context) (Outcome, error) {
	if g.hasCamera != nil && !g.hasCamera() {
		log.Info().Msg("permission: no camera hardware")
		return Unsupported, nil
	}
	if status, ok := g.final(); ok {
		return status, nil
	}

	outcome, err := g.prompter.Prompt(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Denied, ctxErr
	}
	if err != nil {
		return Denied, fmt.Errorf("permission prompt: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.determined && isFinal(g.status) {
		return g.status, nil
	}
	switch outcome {
	case Denied:
		g.denials++
		if g.maxDenials > 0 && g.denials >= g.maxDenials {
			outcome = Blocked
		}
	case Granted, Limited:
		g.denials = 0
	}
	g.status = outcome
	g.determined = true
	log.Info().Str("outcome", outcome.String()).Int("denials", g.denials).Msg("permission: camera request resolved")
	return outcome, nil
}

func (g *DeviceGate) final() (Outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.determined && isFinal(g.status) {
		return g.status, true
	}
	return g.status, false
}

func isFinal(o Outcome) bool {
	switch o {
	case Granted, Limited, Blocked, Unsupported:
		return true
	}
	return false
}

// Status returns the last resolved outcome and whether one exists.
func (g *DeviceGate) Status() (Outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.determined
}
