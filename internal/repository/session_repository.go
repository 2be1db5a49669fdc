package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
)

// SessionRepository provides typed access to session documents.
type SessionRepository struct {
	store store.Store
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(s store.Store) *SessionRepository {
	return &SessionRepository{store: s}
}

// Create persists a new session document and returns the generated key.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (string, error) {
	data, err := store.Encode(session)
	if err != nil {
		return "", err
	}
	// The store generates the key; the id field inside the body is filled
	// afterwards so both always agree.
	key, err := r.store.Create(ctx, store.CollectionSessions, data)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if err := r.store.Update(ctx, store.CollectionSessions, key, 0, store.Set("id", key)); err != nil {
		return "", fmt.Errorf("assign session id: %w", err)
	}
	return key, nil
}

// Get loads one session with its current version.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, int64, error) {
	doc, err := r.store.Get(ctx, store.CollectionSessions, id)
	if err != nil {
		return nil, 0, err
	}
	session := &models.Session{}
	if err := doc.Decode(session); err != nil {
		return nil, 0, err
	}
	session.ID = doc.Key
	return session, doc.Version, nil
}

// Update applies atomic partial updates to the session document.
func (r *SessionRepository) Update(ctx context.Context, id string, baseVersion int64, updates ...store.FieldUpdate) error {
	return r.store.Update(ctx, store.CollectionSessions, id, baseVersion, updates...)
}

// Subscribe watches the session document, delivering a decoded snapshot on
// every change. The returned cancel tears the subscription down.
func (r *SessionRepository) Subscribe(id string, fn func(*models.Session, int64)) func() {
	return r.store.Subscribe(store.CollectionSessions, id, func(doc *store.Document) {
		session := &models.Session{}
		if err := doc.Decode(session); err != nil {
			return
		}
		session.ID = doc.Key
		fn(session, doc.Version)
	})
}
