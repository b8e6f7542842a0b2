package cache

import (
	"context"
	"errors"
)

// Provider defines the local cache operations used by the forward repository.
// Entries are write-once: a key, once stored, is only replaced after an
// explicit Delete.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// SetNX pretends to store the value and reports success.
func (NoopProvider) SetNX(context.Context, string, []byte) (bool, error) {
	return true, nil
}

// Delete is a no-op.
func (NoopProvider) Delete(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }

// Tiered consults providers in order and back-fills earlier tiers on a hit
// in a later one. Writes go to every tier.
type Tiered struct {
	tiers []Provider
}

// NewTiered layers providers, fastest first.
func NewTiered(tiers ...Provider) *Tiered {
	return &Tiered{tiers: tiers}
}

// Get returns the first hit, copying it into the faster tiers.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	for i, tier := range t.tiers {
		value, err := tier.Get(ctx, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, faster := range t.tiers[:i] {
			_, _ = faster.SetNX(ctx, key, value)
		}
		return value, nil
	}
	return nil, ErrCacheMiss
}

// SetNX stores the value in every tier; it reports true if any tier accepted it.
func (t *Tiered) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	stored := false
	for _, tier := range t.tiers {
		ok, err := tier.SetNX(ctx, key, value)
		if err != nil {
			return stored, err
		}
		stored = stored || ok
	}
	return stored, nil
}

// Delete removes key from every tier and returns the first error.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	var first error
	for _, tier := range t.tiers {
		if err := tier.Delete(ctx, key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every tier and returns the first error.
func (t *Tiered) Close() error {
	var first error
	for _, tier := range t.tiers {
		if err := tier.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
