package pubsub

import (
	"context"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

func newClient(ctx context.Context, projectID, credsFile, role string) (*gpubsub.Client, error) {
	if credsFile != "" {
		log.Debug().Str("projectID", projectID).Str("role", role).Str("credsFile", credsFile).Msg("pubsub: initializing client with explicit credentials")
		return gpubsub.NewClient(ctx, projectID, option.WithCredentialsFile(credsFile))
	}
	log.Debug().Str("projectID", projectID).Str("role", role).Msg("pubsub: initializing client with default credentials")
	return gpubsub.NewClient(ctx, projectID)
}
