package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"rackscan/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
)

// Publisher sends vacancy events to a Pub/Sub topic. The client is created on
// first use.
type Publisher struct {
	projectID  string
	eventTopic string
	credsFile  string

	mu     sync.Mutex
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

func NewPublisher(projectID, eventTopic, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, eventTopic: eventTopic, credsFile: credsFile}
}

func (p *Publisher) ensureTopic(ctx context.Context) (*gpubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	client, err := newClient(ctx, p.projectID, p.credsFile, "publisher")
	if err != nil {
		log.Error().Err(err).Str("projectID", p.projectID).Str("topic", p.eventTopic).Msg("pubsub: failed to create client for publisher")
		return nil, err
	}
	p.client = client
	p.topic = client.Topic(p.eventTopic)
	log.Info().Str("topic", p.eventTopic).Msg("pubsub: publisher initialized")
	return p.topic, nil
}

func (p *Publisher) PublishEvent(ctx context.Context, ev *queues.VacancyEvent) error {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Interface("event", ev).Msg("pubsub: failed to marshal vacancy event")
		return err
	}
	r := topic.Publish(ctx, &gpubsub.Message{
		Data:       b,
		Attributes: map[string]string{"sessionId": ev.SessionID, "status": string(ev.Status)},
	})
	id, err := r.Get(ctx)
	if err != nil {
		log.Error().Err(err).Str("sessionId", ev.SessionID).Msg("pubsub: failed to publish vacancy event")
		return err
	}
	log.Debug().Str("messageID", id).Str("sessionId", ev.SessionID).Str("status", string(ev.Status)).Msg("pubsub: published vacancy event")
	return nil
}

// Close stops the topic's publishing goroutines and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
