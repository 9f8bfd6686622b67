package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptKey returns the store key of one device's attempt on a variant.
// The {subject}:{variantId} pair is the attempt identity; the device prefix keeps
// devices apart on a shared server.
func (r *CacheKeyStruct) AttemptKey(deviceID, subject, variantID string) string {
	return fmt.Sprintf("attempt:%s:%s:%s", deviceID, subject, variantID)
}

// ManifestKey returns the cache key for a subject's manifest document.
func (r *CacheKeyStruct) ManifestKey(subject string) string {
	return fmt.Sprintf("variants:%s:manifest", subject)
}

// VariantKey returns the cache key for a parsed variant document.
func (r *CacheKeyStruct) VariantKey(subject, variantID string) string {
	return fmt.Sprintf("variants:%s:%s", subject, variantID)
}

// DeviceSessionKey returns the cache key holding a device token's JTI.
func (r *CacheKeyStruct) DeviceSessionKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

var CacheKey = NewCacheKeyStruct()
