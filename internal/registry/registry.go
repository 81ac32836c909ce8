// Package registry maps users to the shard that owns their active session.
//
// The registry is the single source of truth for "does this user have a
// session anywhere". It also keeps a small shard directory so shards can
// address each other point to point.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	ownerPrefix    = "session_owner:"
	endpointPrefix = "shard_endpoint:"
)

// ErrNotFound is returned when a shard has no directory entry.
var ErrNotFound = errors.New("registry: not found")

// Store is the shared key-value namespace the registry is built on.
// SetIfAbsent and DeleteIfEquals must be atomic against concurrent writers in
// other processes.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Registry records session ownership. Failures are returned to the caller
// and never retried here.
type Registry struct {
	store Store
}

// New creates a Registry over store.
func New(store Store) (*Registry, error) {
	if store == nil {
		return nil, errors.New("registry: store must not be nil")
	}
	return &Registry{store: store}, nil
}

func ownerKey(userID string) string {
	return ownerPrefix + userID
}

func endpointKey(shardID string) string {
	return endpointPrefix + shardID
}

func validID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("registry: %s must not be empty", kind)
	}
	return nil
}

// LookupOwner returns the shard that owns userID's session, if any.
func (r *Registry) LookupOwner(ctx context.Context, userID string) (string, bool, error) {
	if err := validID("user id", userID); err != nil {
		return "", false, err
	}
	shard, ok, err := r.store.Get(ctx, ownerKey(userID))
	if err != nil {
		return "", false, fmt.Errorf("registry: lookup owner: %w", err)
	}
	return shard, ok, nil
}

// RegisterIfAbsent records shardID as the owner of userID's session. It
// returns false without writing when any owner already exists.
func (r *Registry) RegisterIfAbsent(ctx context.Context, userID, shardID string) (bool, error) {
	if err := validID("user id", userID); err != nil {
		return false, err
	}
	if err := validID("shard id", shardID); err != nil {
		return false, err
	}
	ok, err := r.store.SetIfAbsent(ctx, ownerKey(userID), shardID)
	if err != nil {
		return false, fmt.Errorf("registry: register: %w", err)
	}
	return ok, nil
}

// Remove clears userID's ownership record regardless of which shard holds it.
func (r *Registry) Remove(ctx context.Context, userID string) error {
	if err := validID("user id", userID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, ownerKey(userID)); err != nil {
		return fmt.Errorf("registry: remove: %w", err)
	}
	return nil
}

// Release clears userID's ownership record only while shardID still owns it.
func (r *Registry) Release(ctx context.Context, userID, shardID string) (bool, error) {
	if err := validID("user id", userID); err != nil {
		return false, err
	}
	ok, err := r.store.DeleteIfEquals(ctx, ownerKey(userID), shardID)
	if err != nil {
		return false, fmt.Errorf("registry: release: %w", err)
	}
	return ok, nil
}

// HasOwner reports whether any shard owns userID's session.
func (r *Registry) HasOwner(ctx context.Context, userID string) (bool, error) {
	if err := validID("user id", userID); err != nil {
		return false, err
	}
	ok, err := r.store.Exists(ctx, ownerKey(userID))
	if err != nil {
		return false, fmt.Errorf("registry: exists: %w", err)
	}
	return ok, nil
}

// AnnounceShard publishes the base URL peers use to reach shardID.
func (r *Registry) AnnounceShard(ctx context.Context, shardID, baseURL string) error {
	if err := validID("shard id", shardID); err != nil {
		return err
	}
	if err := validID("shard url", baseURL); err != nil {
		return err
	}
	if err := r.store.Put(ctx, endpointKey(shardID), strings.TrimRight(baseURL, "/")); err != nil {
		return fmt.Errorf("registry: announce shard: %w", err)
	}
	return nil
}

// ResolveShard returns the base URL announced by shardID.
func (r *Registry) ResolveShard(ctx context.Context, shardID string) (string, error) {
	if err := validID("shard id", shardID); err != nil {
		return "", err
	}
	url, ok, err := r.store.Get(ctx, endpointKey(shardID))
	if err != nil {
		return "", fmt.Errorf("registry: resolve shard: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("registry: resolve shard %q: %w", shardID, ErrNotFound)
	}
	return url, nil
}

// WithdrawShard removes shardID from the directory.
func (r *Registry) WithdrawShard(ctx context.Context, shardID string) error {
	if err := validID("shard id", shardID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, endpointKey(shardID)); err != nil {
		return fmt.Errorf("registry: withdraw shard: %w", err)
	}
	return nil
}
