package signer

import "time"

// KeyCache holds the derived mixin key for a bounded validity window.
type KeyCache struct {
	Keys      Keys
	MixinKey  string
	ExpiresAt time.Time
}

// Fresh reports whether the cached key may still be used at now.
func (c *KeyCache) Fresh(now time.Time) bool {
	return c != nil && c.MixinKey != "" && now.Before(c.ExpiresAt)
}

func newKeyCache(k Keys, now time.Time, ttl time.Duration) *KeyCache {
	return &KeyCache{
		Keys:      k,
		MixinKey:  MixinKey(k),
		ExpiresAt: now.Add(ttl),
	}
}
