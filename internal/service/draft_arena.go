package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/port/cache"
)

const draftKeyPrefix = "draft:"

// ErrInvalidDraft rejects a draft save with a missing token or a payload that
// is not a JSON object.
var ErrInvalidDraft = fmt.Errorf("invalid draft: %w", domain.ErrInvalidInput)

// DraftArena holds in-flight signup answers under an opaque token until the
// onboarding trigger picks them up. Entries expire after ttl.
type DraftArena struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewDraftArena creates an arena on top of c.
func NewDraftArena(c cache.Cache, ttl time.Duration) *DraftArena {
	return &DraftArena{cache: c, ttl: ttl}
}

// Put stores a draft and returns its token. data must be a JSON object.
func (a *DraftArena) Put(ctx context.Context, data json.RawMessage) (string, error) {
	token := uuid.NewString()
	if err := a.Save(ctx, token, data); err != nil {
		return "", err
	}
	return token, nil
}

// Save replaces the draft stored under token and restarts its ttl.
func (a *DraftArena) Save(ctx context.Context, token string, data json.RawMessage) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidDraft)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: payload must be a JSON object", ErrInvalidDraft)
	}
	if err := a.cache.Set(ctx, draftKeyPrefix+token, data, a.ttl); err != nil {
		return fmt.Errorf("draft save: %w", err)
	}
	return nil
}

// Get returns the draft for token, or domain.ErrNotFound once it expired.
func (a *DraftArena) Get(ctx context.Context, token string) (json.RawMessage, error) {
	raw, ok, err := a.cache.Get(ctx, draftKeyPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("draft get: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", token, domain.ErrNotFound)
	}
	return raw, nil
}

// Delete drops a draft.
func (a *DraftArena) Delete(ctx context.Context, token string) error {
	return a.cache.Delete(ctx, draftKeyPrefix+token)
}
