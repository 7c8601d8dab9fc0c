// Package cache stores generated narratives so repeated prompts do not hit
// the language model twice.
package cache

import (
	"context"
	"time"
)

// Store is a string key/value cache with per-entry expiry.
type Store interface {
	// Get returns the value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
