package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rackscan/lifecycle"
	"rackscan/metrics"
	"rackscan/permission"
	"rackscan/queues"
	"rackscan/scanner"
	"rackscan/vacancy"

	"github.com/rs/zerolog/log"
)

// Deps are the collaborators of a Controller. Publisher may be nil.
type Deps struct {
	Gate      permission.Gate
	Observer  lifecycle.Observer
	Devices   DeviceProvider
	Reporter  vacancy.Reporter
	Publisher queues.Publisher
	Navigator Navigator
	Alerter   Alerter
}

type mounted struct {
	session *scanner.Controller
	stop    chan struct{}
	done    chan struct{}
}

// Controller is the scan screen. It shows at most one scan session at a time
// and turns its decoded payload into a vacancy submission.
type Controller struct {
	cfg  Config
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current *mounted
	focused bool
}

func New(cfg Config, deps Deps) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{cfg: cfg, deps: deps, ctx: ctx, cancel: cancel, focused: true}
}

// StartScan asks for camera access and mounts a session. It is a no-op while
// a session is shown.
func (c *Controller) StartScan(ctx context.Context) error {
	if c.Shown() {
		log.Debug().Msg("screen: scan already shown")
		return nil
	}
	outcome, err := c.deps.Gate.RequestCameraAccess(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("screen: permission request abandoned")
		return err
	}
	metrics.PermissionOutcomesTotal.WithLabelValues(outcome.String()).Inc()
	log.Info().Str("outcome", outcome.String()).Msg("screen: camera permission resolved")

	switch outcome {
	case permission.Granted, permission.Limited:
		return c.mount()
	case permission.Denied:
		c.deps.Alerter.Alert(Alert{Title: TitlePermission, Message: MessageDenied})
		return ErrPermissionDenied
	case permission.Blocked:
		c.deps.Alerter.Alert(Alert{
			Title:   TitlePermission,
			Message: MessageBlocked,
			Action:  &SettingsAction{Label: SettingsActionLabel, Target: c.cfg.SettingsTarget},
		})
		return ErrPermissionBlocked
	default:
		c.deps.Alerter.Alert(Alert{Title: TitleCamera, Message: MessageUnsupported})
		return scanner.ErrCapabilityUnavailable
	}
}

func (c *Controller) mount() error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil
	}
	s := scanner.New(c.deps.Devices(), c.deps.Observer, c.cfg.Scanner)
	s.SetFocus(c.focused)
	if err := s.Mount(); err != nil {
		c.mu.Unlock()
		_ = s.Close()
		c.deps.Alerter.Alert(Alert{Title: TitleCamera, Message: MessageCameraFailed})
		return err
	}
	m := &mounted{session: s, stop: make(chan struct{}), done: make(chan struct{})}
	c.current = m
	c.mu.Unlock()

	log.Info().Str("session", s.ID()).Msg("screen: scan shown")
	go c.watch(m)
	return nil
}

func (c *Controller) watch(m *mounted) {
	defer close(m.done)
	s := m.session
	select {
	case value := <-s.Decoded():
		c.submit(s.ID(), value)
	case err := <-s.Failures():
		log.Error().Err(err).Str("session", s.ID()).Msg("screen: scan failed")
		c.deps.Alerter.Alert(Alert{Title: TitleCamera, Message: MessageCameraFailed})
	case <-m.stop:
		return
	}
	if c.unmount(m) {
		c.deps.Navigator.Idle()
	}
}

func (c *Controller) submit(sessionID, value string) {
	req := vacancy.Request{
		BikeRackID:       c.cfg.BikeRackID,
		UserDocument:     value,
		EmployeeDocument: c.cfg.EmployeeDocument,
	}
	start := time.Now()
	resp, err := c.deps.Reporter.Submit(c.ctx, req)
	duration := time.Since(start)
	metrics.SubmissionDuration.Observe(duration.Seconds())

	ev := &queues.VacancyEvent{
		EnvelopeVersion: queues.EnvelopeVersion,
		Type:            queues.VacancyEventType,
		SessionID:       sessionID,
		BikeRackID:      req.BikeRackID,
		UserDocument:    req.UserDocument,
	}
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(submissionResult(err)).Inc()
		msg := err.Error()
		ev.Status = queues.StatusFailure
		ev.ErrorMessage = &msg
		log.Error().Err(err).Str("session", sessionID).Dur("duration", duration).Msg("screen: vacancy submission failed")
		c.deps.Alerter.Alert(Alert{Title: TitleSubmission, Message: MessageSubmissionRetry})
	} else {
		metrics.SubmissionsTotal.WithLabelValues("success").Inc()
		ev.Status = queues.StatusSuccess
		ev.Message = &resp.Message
		ev.IsRetrieval = &resp.IsRetrieval
		log.Info().Str("session", sessionID).Str("message", resp.Message).Bool("isRetrieval", resp.IsRetrieval).Dur("duration", duration).Msg("screen: vacancy saved")
	}
	c.publish(ev)
}

func (c *Controller) publish(ev *queues.VacancyEvent) {
	if c.deps.Publisher == nil {
		return
	}
	if err := c.deps.Publisher.PublishEvent(c.ctx, ev); err != nil {
		log.Error().Err(err).Str("session", ev.SessionID).Msg("screen: failed to publish vacancy event")
	}
}

func submissionResult(err error) string {
	switch {
	case errors.Is(err, vacancy.ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, vacancy.ErrSubmissionFailure):
		return "submission_failure"
	}
	return "error"
}

// unmount tears the session down if it is still the current one.
func (c *Controller) unmount(m *mounted) bool {
	c.mu.Lock()
	if c.current != m {
		c.mu.Unlock()
		return false
	}
	c.current = nil
	c.mu.Unlock()

	if err := m.session.Close(); err != nil {
		log.Warn().Err(err).Str("session", m.session.ID()).Msg("screen: camera close failed")
	}
	log.Info().Str("session", m.session.ID()).Msg("screen: scan hidden")
	return true
}

// HandleBack consumes the back action while a scan that has not yet
// accepted a code is shown. It reports false to let the default behaviour run.
func (c *Controller) HandleBack() bool {
	c.mu.Lock()
	m := c.current
	c.mu.Unlock()
	if m == nil || !m.session.Cancel() {
		return false
	}
	close(m.stop)
	if c.unmount(m) {
		c.deps.Navigator.Idle()
	}
	return true
}

// SetFocus forwards screen focus to the shown session and remembers it for
// the next one.
func (c *Controller) SetFocus(focused bool) {
	c.mu.Lock()
	c.focused = focused
	m := c.current
	c.mu.Unlock()
	if m != nil {
		m.session.SetFocus(focused)
	}
}

func (c *Controller) Shown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Controller) Session() (scanner.Snapshot, bool) {
	c.mu.Lock()
	m := c.current
	c.mu.Unlock()
	if m == nil {
		return scanner.Snapshot{}, false
	}
	return m.session.Snapshot(), true
}

// HandleIntent applies an operator intent. Outcomes already surfaced as
// alerts are not returned, so the intent is not redelivered.
func (c *Controller) HandleIntent(ctx context.Context, intent *queues.ScanIntent) error {
	switch intent.Action {
	case queues.ActionScan:
		err := c.StartScan(ctx)
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrPermissionBlocked) || errors.Is(err, scanner.ErrCapabilityUnavailable) {
			return nil
		}
		return err
	case queues.ActionBack:
		if !c.HandleBack() {
			log.Debug().Msg("screen: back intent ignored")
		}
		return nil
	case queues.ActionFocus:
		c.SetFocus(true)
		return nil
	case queues.ActionBlur:
		c.SetFocus(false)
		return nil
	}
	return fmt.Errorf("unknown scan intent action %q", intent.Action)
}

// Shutdown drops the shown session and waits for an in-flight submission
// until ctx is done.
func (c *Controller) Shutdown(ctx context.Context) error {
	defer c.cancel()
	c.mu.Lock()
	m := c.current
	c.mu.Unlock()
	if m == nil {
		return nil
	}
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	default:
		if m.session.Cancel() {
			close(m.stop)
		}
	}
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.unmount(m)
	return nil
}
