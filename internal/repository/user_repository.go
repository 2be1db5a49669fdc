package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
)

// UserRepository reads the user/role directory and manages refresh tokens.
type UserRepository struct {
	store store.Store
}

// NewUserRepository constructs the repository.
func NewUserRepository(s store.Store) *UserRepository {
	return &UserRepository{store: s}
}

// FindByID loads one user.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	doc, err := r.store.Get(ctx, store.CollectionUsers, id)
	if err != nil {
		return nil, err
	}
	return decodeUser(doc)
}

// FindByEmail looks a user up by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	docs, err := r.store.Find(ctx, store.CollectionUsers, store.Query{
		Filters: []store.Filter{{Field: "email", Value: email}},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeUser(docs[0])
}

// UpdateLastLogin stamps the user's last login time.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return r.store.Update(ctx, store.CollectionUsers, id, 0, store.Set("lastLogin", ts))
}

// CreateRefreshToken stores a refresh token document.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	data, err := store.Encode(token)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, store.CollectionRefreshTokens, token.ID, data)
}

// FindRefreshToken resolves a refresh token by its opaque value.
func (r *UserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	docs, err := r.store.Find(ctx, store.CollectionRefreshTokens, store.Query{
		Filters: []store.Filter{{Field: "token", Value: token}},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	rt := &models.RefreshToken{}
	if err := docs[0].Decode(rt); err != nil {
		return nil, err
	}
	return rt, nil
}

// RevokeRefreshToken marks a refresh token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string) error {
	return r.store.Update(ctx, store.CollectionRefreshTokens, id, 0, store.Set("revoked", true))
}

func decodeUser(doc *store.Document) (*models.User, error) {
	user := &models.User{}
	if err := doc.Decode(user); err != nil {
		return nil, err
	}
	user.ID = doc.Key
	return user, nil
}
