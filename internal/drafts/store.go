// Package drafts implements the pre-submission proposal draft store. Drafts
// are mutable JSON documents keyed by generated UUID; the production backend
// is Redis so that every API instance sees the same drafts, with an in-memory
// implementation for development and tests.
package drafts

import (
	"context"
	"time"

	"github.com/partnerhub/partnerhub/internal/db/models"
)

// Store is the persistence contract for drafts. Get returns (nil, nil) when
// the id is unknown, mirroring the repository convention for missing rows.
type Store interface {
	Get(ctx context.Context, id string) (*models.Draft, error)
	Put(ctx context.Context, draft *models.Draft, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Draft, error)
}
