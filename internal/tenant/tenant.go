// Package tenant exposes the read-mostly lookups the engine consumes from
// the tenant-management subsystem: shard assignments, encryption keys, and
// policy thresholds. The engine never writes these; it caches them with
// bounded staleness and performs one authoritative lookup on a miss.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modelguard/modelguard/internal/policy"
)

// ErrTenantUnknown is returned when a tenant has no assignment or key.
var ErrTenantUnknown = errors.New("tenant is unknown")

// EncryptionKey is tenant key material plus its rotation version.
type EncryptionKey struct {
	Material []byte
	Version  uint8
}

// Directory resolves tenant state owned by the tenant-management subsystem.
type Directory interface {
	// ShardFor returns the shard identifier the tenant's data lives on.
	ShardFor(ctx context.Context, tenantID string) (string, error)
	// KeyFor returns the tenant's current encryption key.
	KeyFor(ctx context.Context, tenantID string) (EncryptionKey, error)
	// ThresholdsFor returns the tenant's policy gate thresholds.
	ThresholdsFor(ctx context.Context, tenantID string) (policy.Thresholds, error)
}

// StaticDirectory is a Directory backed by in-memory maps. It serves tests
// and single-node deployments where tenant state is provisioned up front.
type StaticDirectory struct {
	shards     map[string]string
	keys       map[string]EncryptionKey
	thresholds map[string]policy.Thresholds
	defaults   policy.Thresholds
}

// NewStaticDirectory creates a StaticDirectory.
func NewStaticDirectory(defaults policy.Thresholds) *StaticDirectory {
	return &StaticDirectory{
		shards:     make(map[string]string),
		keys:       make(map[string]EncryptionKey),
		thresholds: make(map[string]policy.Thresholds),
		defaults:   defaults,
	}
}

// AddTenant registers a tenant's shard and key.
func (d *StaticDirectory) AddTenant(tenantID, shardID string, key EncryptionKey) {
	d.shards[tenantID] = shardID
	d.keys[tenantID] = key
}

// SetThresholds overrides the tenant's gate thresholds.
func (d *StaticDirectory) SetThresholds(tenantID string, t policy.Thresholds) {
	d.thresholds[tenantID] = t
}

// ShardFor returns the shard identifier the tenant's data lives on.
func (d *StaticDirectory) ShardFor(_ context.Context, tenantID string) (string, error) {
	shard, ok := d.shards[tenantID]
	if !ok {
		return "", fmt.Errorf("%w: %s has no shard assignment", ErrTenantUnknown, tenantID)
	}
	return shard, nil
}

// KeyFor returns the tenant's current encryption key.
func (d *StaticDirectory) KeyFor(_ context.Context, tenantID string) (EncryptionKey, error) {
	key, ok := d.keys[tenantID]
	if !ok {
		return EncryptionKey{}, fmt.Errorf("%w: %s has no encryption key", ErrTenantUnknown, tenantID)
	}
	return key, nil
}

// ThresholdsFor returns the tenant's policy gate thresholds.
func (d *StaticDirectory) ThresholdsFor(_ context.Context, tenantID string) (policy.Thresholds, error) {
	if t, ok := d.thresholds[tenantID]; ok {
		return t, nil
	}
	return d.defaults, nil
}

// cacheEntry is one cached lookup with its expiry.
type cacheEntry[V any] struct {
	value   V
	expires time.Time
}

// CachingDirectory wraps a Directory with per-tenant TTL caches. Reads are
// safe for concurrent use; only the upstream subsystem invalidates state, so
// staleness is bounded by the TTL.
type CachingDirectory struct {
	upstream   Directory
	ttl        time.Duration
	mu         sync.RWMutex
	shards     map[string]cacheEntry[string]
	keys       map[string]cacheEntry[EncryptionKey]
	thresholds map[string]cacheEntry[policy.Thresholds]
	now        func() time.Time
}

// NewCachingDirectory wraps upstream with a TTL cache.
func NewCachingDirectory(upstream Directory, ttl time.Duration) *CachingDirectory {
	return &CachingDirectory{
		upstream:   upstream,
		ttl:        ttl,
		shards:     make(map[string]cacheEntry[string]),
		keys:       make(map[string]cacheEntry[EncryptionKey]),
		thresholds: make(map[string]cacheEntry[policy.Thresholds]),
		now:        time.Now,
	}
}

// ShardFor returns the cached shard assignment, looking it up on a miss.
func (c *CachingDirectory) ShardFor(ctx context.Context, tenantID string) (string, error) {
	c.mu.RLock()
	entry, ok := c.shards[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.value, nil
	}

	shard, err := c.upstream.ShardFor(ctx, tenantID)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.shards[tenantID] = cacheEntry[string]{value: shard, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return shard, nil
}

// KeyFor returns the cached encryption key, looking it up on a miss.
func (c *CachingDirectory) KeyFor(ctx context.Context, tenantID string) (EncryptionKey, error) {
	c.mu.RLock()
	entry, ok := c.keys[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.value, nil
	}

	key, err := c.upstream.KeyFor(ctx, tenantID)
	if err != nil {
		return EncryptionKey{}, err
	}
	c.mu.Lock()
	c.keys[tenantID] = cacheEntry[EncryptionKey]{value: key, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return key, nil
}

// ThresholdsFor returns the cached thresholds, looking them up on a miss.
func (c *CachingDirectory) ThresholdsFor(ctx context.Context, tenantID string) (policy.Thresholds, error) {
	c.mu.RLock()
	entry, ok := c.thresholds[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.value, nil
	}

	t, err := c.upstream.ThresholdsFor(ctx, tenantID)
	if err != nil {
		return policy.Thresholds{}, err
	}
	c.mu.Lock()
	c.thresholds[tenantID] = cacheEntry[policy.Thresholds]{value: t, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return t, nil
}
