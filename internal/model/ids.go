package model

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// NewID returns a fresh random identifier for a new entity row.
func NewID() string {
	return uuid.NewString()
}

// Variant deterministically assigns a business to one of n A/B buckets,
// stable across reruns for the same (business, campaign) pair. Uses FNV-1a
// rather than a cryptographic hash since stability, not unpredictability, is
// the requirement.
func Variant(businessID, campaignID string, n int) int {
	if n <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(businessID))
	_, _ = h.Write([]byte{0}) // separator so "ab"+"c" != "a"+"bc"
	_, _ = h.Write([]byte(campaignID))
	return int(h.Sum64() % uint64(n))
}
