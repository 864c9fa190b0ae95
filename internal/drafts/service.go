package drafts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/models"
	"github.com/partnerhub/partnerhub/internal/identifier"
	"github.com/partnerhub/partnerhub/internal/telemetry"
)

// Service implements draft lifecycle operations on top of a Store.
//
// Any operation that dereferences a draft id accepts legacy labels: a
// recognized label is migrated on the spot into a fresh draft with a generated
// id and the inferred event type. No label-to-id mapping is retained, so
// dereferencing the same label twice produces two independent drafts. Callers
// must switch to the returned generated id after the first dereference.
type Service struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewService creates a draft service. ttl bounds how long an untouched draft
// survives; every write refreshes it.
func NewService(store Store, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{store: store, ttl: ttl, logger: logger}
}

// Create starts a new empty draft of the given event type.
func (s *Service) Create(ctx context.Context, eventType models.EventType) (*models.Draft, error) {
	if !eventType.Valid() {
		return nil, apperr.New(apperr.KindValidation, "unknown event type %q", eventType)
	}

	now := time.Now()
	draft := &models.Draft{
		ID:        uuid.New().String(),
		EventType: eventType,
		FormData:  map[string]any{"eventType": string(eventType)},
		Status:    models.DraftStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Put(ctx, draft, s.ttl); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to persist draft")
	}
	return draft, nil
}

// Get dereferences a draft id or legacy label. Unknown well-formed ids and
// malformed tokens resolve to NotFound.
func (s *Service) Get(ctx context.Context, token string) (*models.Draft, error) {
	return s.resolve(ctx, token)
}

// List returns all live drafts.
func (s *Service) List(ctx context.Context) ([]*models.Draft, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to list drafts")
	}
	return list, nil
}

// PatchSection merges the given fields into one section of the draft's form
// data. Keys already present in the section are overwritten; other sections
// are untouched. Submitted drafts are immutable.
func (s *Service) PatchSection(ctx context.Context, token, section string, fields map[string]any) (*models.Draft, error) {
	draft, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if draft.Status == models.DraftStatusSubmitted {
		return nil, apperr.New(apperr.KindValidation, "draft %s is already submitted", draft.ID)
	}

	if draft.FormData == nil {
		draft.FormData = make(map[string]any)
	}
	sectionData, _ := draft.FormData[section].(map[string]any)
	if sectionData == nil {
		sectionData = make(map[string]any)
	}
	for k, v := range fields {
		sectionData[k] = v
	}
	draft.FormData[section] = sectionData
	draft.UpdatedAt = time.Now()

	if err := s.store.Put(ctx, draft, s.ttl); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to persist draft %s", draft.ID)
	}
	return draft, nil
}

// SetEventType changes the draft's event type before submission.
func (s *Service) SetEventType(ctx context.Context, token string, eventType models.EventType) (*models.Draft, error) {
	if !eventType.Valid() {
		return nil, apperr.New(apperr.KindValidation, "unknown event type %q", eventType)
	}

	draft, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if draft.Status == models.DraftStatusSubmitted {
		return nil, apperr.New(apperr.KindValidation, "draft %s is already submitted", draft.ID)
	}

	draft.EventType = eventType
	if draft.FormData == nil {
		draft.FormData = make(map[string]any)
	}
	draft.FormData["eventType"] = string(eventType)
	draft.UpdatedAt = time.Now()

	if err := s.store.Put(ctx, draft, s.ttl); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to persist draft %s", draft.ID)
	}
	return draft, nil
}

// Submit freezes the draft. It does not create a proposal; the caller
// exchanges the submitted draft for a proposal in a separate step.
func (s *Service) Submit(ctx context.Context, token string) (*models.Draft, error) {
	draft, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if draft.Status == models.DraftStatusSubmitted {
		return nil, apperr.New(apperr.KindValidation, "draft %s is already submitted", draft.ID)
	}

	now := time.Now()
	draft.Status = models.DraftStatusSubmitted
	draft.SubmittedAt = &now
	draft.UpdatedAt = now

	if err := s.store.Put(ctx, draft, s.ttl); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to persist draft %s", draft.ID)
	}
	return draft, nil
}

// Delete removes a draft. Deleting an unknown id is a no-op.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return apperr.Wrap(apperr.KindDependencyFailure, err, "failed to delete draft %s", id)
	}
	return nil
}

// resolve turns a draft token into a stored draft, migrating legacy labels.
func (s *Service) resolve(ctx context.Context, token string) (*models.Draft, error) {
	ident := identifier.Classify(token)

	switch ident.Kind {
	case identifier.KindPublic:
		draft, err := s.store.Get(ctx, ident.Public.String())
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to read draft %s", token)
		}
		if draft == nil {
			return nil, apperr.New(apperr.KindNotFound, "draft %s not found", token)
		}
		return draft, nil

	case identifier.KindLegacy:
		return s.migrateLegacy(ctx, ident.Legacy)

	default:
		return nil, apperr.New(apperr.KindNotFound, "draft %s not found", token)
	}
}

// migrateLegacy synthesizes a fresh draft for a legacy label. Each call
// creates a new draft: the label is recorded on the draft but no reverse
// mapping exists, so repeat dereferences of the same label do not converge.
func (s *Service) migrateLegacy(ctx context.Context, label string) (*models.Draft, error) {
	eventType, ok := identifier.InferEventType(label)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "draft %s not found", label)
	}

	now := time.Now()
	draft := &models.Draft{
		ID:                  uuid.New().String(),
		EventType:           eventType,
		FormData:            map[string]any{"eventType": string(eventType)},
		Status:              models.DraftStatusDraft,
		OriginalLegacyLabel: label,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.store.Put(ctx, draft, s.ttl); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to persist migrated draft")
	}

	telemetry.DraftLegacyMigrationsTotal.Inc()
	s.logger.Info("migrated legacy draft label",
		"label", label,
		"draft_id", draft.ID,
		"event_type", string(eventType))

	return draft, nil
}
