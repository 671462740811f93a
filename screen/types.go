package screen

import (
	"errors"

	"rackscan/camera"
	"rackscan/scanner"

	"github.com/rs/zerolog/log"
)

var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrPermissionBlocked = errors.New("camera permission blocked")
)

// Alert texts shown to the operator.
const (
	TitleCamera            = "Camera"
	TitlePermission        = "Permission required"
	TitleSubmission        = "Vacancy not saved"
	MessageCameraFailed    = "Camera could not be started"
	MessageUnsupported     = "This feature is not supported on this device"
	MessageDenied          = "Camera permission is required to scan QR codes."
	MessageBlocked         = "Please give permission from settings to continue using camera."
	SettingsActionLabel    = "Go To Settings"
	MessageSubmissionRetry = "The vacancy could not be saved. Scan the code again."
)

// SettingsAction is an alert button that opens the OS settings page.
type SettingsAction struct {
	Label  string
	Target string
}

type Alert struct {
	Title   string
	Message string
	Action  *SettingsAction
}

type Alerter interface {
	Alert(Alert)
}

// Navigator returns the app to its idle screen.
type Navigator interface {
	Idle()
}

// DeviceProvider returns the camera for a new session, or nil when the host
// has none.
type DeviceProvider func() camera.Device

type Config struct {
	BikeRackID       int
	EmployeeDocument string
	// SettingsTarget is the deep link carried by the blocked-permission alert.
	SettingsTarget string
	Scanner        scanner.Options
}

// LogAlerter writes alerts to the log. Stations without a display use it.
type LogAlerter struct{}

func (LogAlerter) Alert(a Alert) {
	ev := log.Warn().Str("title", a.Title)
	if a.Action != nil {
		ev = ev.Str("action", a.Action.Label).Str("target", a.Action.Target)
	}
	ev.Msg("screen: " + a.Message)
}

// IdleSignal is a Navigator that reports returns to idle on C.
type IdleSignal struct {
	C chan struct{}
}

func NewIdleSignal() *IdleSignal {
	return &IdleSignal{C: make(chan struct{}, 1)}
}

func (s *IdleSignal) Idle() {
	log.Debug().Msg("screen: idle")
	select {
	case s.C <- struct{}{}:
	default:
	}
}
