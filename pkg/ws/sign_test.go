package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignDeterministic(t *testing.T) {
	sig := Sign("secret", "1700000000000", "l2Orderbook", []string{"BTC-USDC", "ETH-USDC"})
	// 32-byte HMAC-SHA256, hex encoded.
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign("secret", "1700000000000", "l2Orderbook", []string{"BTC-USDC", "ETH-USDC"}))
}

func TestSignVariesWithInputs(t *testing.T) {
	base := Sign("secret", "1", "ch", []string{"A"})
	assert.NotEqual(t, base, Sign("other", "1", "ch", []string{"A"}))
	assert.NotEqual(t, base, Sign("secret", "2", "ch", []string{"A"}))
	assert.NotEqual(t, base, Sign("secret", "1", "ch", []string{"B"}))
}
