package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atrimo/torrent/internal/model"
)

func TestSubjectSuffix(t *testing.T) {
	suffix, ok := SubjectSuffix(model.StreamSnapshot)
	assert.True(t, ok)
	assert.Equal(t, SuffixSnapshot, suffix)

	suffix, ok = SubjectSuffix(model.StreamUpdate)
	assert.True(t, ok)
	assert.Equal(t, SuffixUpdate, suffix)

	suffix, ok = SubjectSuffix(model.StreamPricing)
	assert.True(t, ok)
	assert.Equal(t, SuffixPricing, suffix)

	// Pricing requests are internal; they never leave the process.
	_, ok = SubjectSuffix(model.StreamPricingRequest)
	assert.False(t, ok)
}
