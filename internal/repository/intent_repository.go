package repository

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
)

// TerminationIntent records a termination that has been requested but not
// yet fully applied. The aggregator writes it before mutating session and
// progress documents and clears it on success, so a crash mid-termination
// is recoverable instead of leaving the two writes half-applied.
type TerminationIntent struct {
	SessionID string                  `json:"sessionId"`
	ClassID   string                  `json:"classId"`
	Feedback  *models.SessionFeedback `json:"feedback"`
	CreatedAt time.Time               `json:"createdAt"`
}

// IntentRepository persists termination intents keyed by session id.
type IntentRepository struct {
	store store.Store
}

// NewIntentRepository constructs the repository.
func NewIntentRepository(s store.Store) *IntentRepository {
	return &IntentRepository{store: s}
}

// Put records an intent.
func (r *IntentRepository) Put(ctx context.Context, intent *TerminationIntent) error {
	data, err := store.Encode(intent)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, store.CollectionIntents, intent.SessionID, data)
}

// Clear removes an intent after the termination fully applied.
func (r *IntentRepository) Clear(ctx context.Context, sessionID string) error {
	err := r.store.Delete(ctx, store.CollectionIntents, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// List returns all pending intents, oldest first.
func (r *IntentRepository) List(ctx context.Context) ([]*TerminationIntent, error) {
	docs, err := r.store.Find(ctx, store.CollectionIntents, store.Query{OrderBy: "createdAt"})
	if err != nil {
		return nil, err
	}
	intents := make([]*TerminationIntent, 0, len(docs))
	for _, doc := range docs {
		intent := &TerminationIntent{}
		if err := doc.Decode(intent); err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, nil
}
