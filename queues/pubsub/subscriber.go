package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"rackscan/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
)

// Subscriber receives scan intents. Intents addressed to another station are
// acked and dropped.
type Subscriber struct {
	projectID        string
	subscriptionName string
	stationID        string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, stationID, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, stationID: stationID, credsFile: credsFile}
}

func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *queues.ScanIntent) error) error {
	if s.client == nil {
		client, err := newClient(ctx, s.projectID, s.credsFile, "subscriber")
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("pubsub: failed to create client for subscriber")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Str("station", s.stationID).Msg("pubsub: subscriber initialized")
	}
	// One intent at a time keeps screen transitions in arrival order.
	s.sub.ReceiveSettings.MaxOutstandingMessages = 1
	s.sub.ReceiveSettings.NumGoroutines = 1

	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("pubsub: received message")
		recvAt := time.Now()
		var intent queues.ScanIntent
		if err := json.Unmarshal(m.Data, &intent); err != nil {
			log.Error().Err(err).Msg("pubsub: failed to unmarshal scan intent")
			m.Ack()
			return
		}
		if !intent.Valid() {
			log.Error().Str("action", intent.Action).Msg("pubsub: invalid scan intent")
			m.Ack()
			return
		}
		if intent.StationID != "" && s.stationID != "" && intent.StationID != s.stationID {
			log.Debug().Str("target", intent.StationID).Str("station", s.stationID).Msg("pubsub: intent for another station")
			m.Ack()
			return
		}

		log.Info().Str("action", intent.Action).Str("target", intent.StationID).Msg("pubsub: handling scan intent")
		if err := handler(ctx, &intent); err != nil {
			log.Error().Err(err).Str("action", intent.Action).Msg("pubsub: handler failed; will redeliver")
			m.Nack()
			return
		}
		log.Debug().Str("action", intent.Action).Dur("latency", time.Since(recvAt)).Msg("pubsub: handler succeeded; acking message")
		m.Ack()
	})
}
