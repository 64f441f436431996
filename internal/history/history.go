// Package history persists the artifact records written when jobs complete.
package history

import (
	"context"

	"github.com/tospeech/server/internal/model"
)

// Store defines the persistence operations for artifact records.
type Store interface {
	CreateArtifact(ctx context.Context, rec *model.ArtifactRecord) error
	ListArtifacts(ctx context.Context, ownerID string, limit, offset int) ([]*model.ArtifactRecord, int, error)
	Close() error
}
