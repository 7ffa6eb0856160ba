package featureflags

import (
	"github.com/cespare/xxhash/v2"
)

// Bucket places userID into one of 100 rollout buckets for the given feature.
// The result depends only on its inputs, so a user sees a stable answer for as
// long as the feature's percentage does not change.
func Bucket(userID string, id FeatureID) int {
	return int(xxhash.Sum64String(userID+string(id)) % 100)
}
