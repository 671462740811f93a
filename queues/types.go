package queues

import "context"

// Scan intent actions.
const (
	ActionScan  = "scan"
	ActionBack  = "back"
	ActionFocus = "focus"
	ActionBlur  = "blur"
)

// ScanIntent is an operator command delivered to a scanning station.
type ScanIntent struct {
	Action string `json:"action"`
	// StationID targets one station; empty means every station.
	StationID string `json:"stationId,omitempty"`
}

// Valid reports whether the action is one a station understands.
func (i ScanIntent) Valid() bool {
	switch i.Action {
	case ActionScan, ActionBack, ActionFocus, ActionBlur:
		return true
	}
	return false
}

type EventStatus string

const (
	StatusSuccess EventStatus = "Success"
	StatusFailure EventStatus = "Failure"
)

const (
	EnvelopeVersion  = "1.0"
	VacancyEventType = "vacancy-result"
)

// VacancyEvent is published after every submission attempt.
type VacancyEvent struct {
	EnvelopeVersion string      `json:"envelopeVersion"`
	Type            string      `json:"type"`
	SessionID       string      `json:"sessionId"`
	BikeRackID      int         `json:"bikeRackId"`
	UserDocument    string      `json:"userDocument"`
	Status          EventStatus `json:"status"`
	Message         *string     `json:"message,omitempty"`
	IsRetrieval     *bool       `json:"isRetrieval,omitempty"`
	ErrorMessage    *string     `json:"errorMessage,omitempty"`
}

type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *ScanIntent) error) error
}

type Publisher interface {
	PublishEvent(ctx context.Context, ev *VacancyEvent) error
}
