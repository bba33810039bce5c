package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewVenue(t *testing.T) {
	assert.Equal(t, VenueBinance, NewVenue("binance"))
	assert.Equal(t, VenueBinance, NewVenue("Binance"))
	assert.Equal(t, VenueBinanceFutures, NewVenue("binance_futures"))
	assert.Equal(t, VenueOkx, NewVenue("OKX"))
	assert.Equal(t, VenueBybit, NewVenue("bybit"))
	assert.Equal(t, VenueBullish, NewVenue("bullish"))
	assert.Equal(t, VenueUnknown, NewVenue("nyse"))
}

func TestCcyPairString(t *testing.T) {
	pair := NewCcyPair("BTC", "USDT", ProductSpot)
	assert.Equal(t, "btc-usdt-spot", pair.String())

	pair = NewCcyPair("eth", "usd", ProductFutures)
	assert.Equal(t, "eth-usd-futures", pair.String())
}

func TestParseCcyPair(t *testing.T) {
	pair, err := ParseCcyPair("btc-usdt-spot")
	assert.NoError(t, err)
	assert.Equal(t, CcyPair{Base: "btc", Quote: "usdt", Product: ProductSpot}, pair)

	_, err = ParseCcyPair("btc-usdt")
	assert.Error(t, err, "missing product should fail")

	_, err = ParseCcyPair("btc-usdt-swap")
	assert.Error(t, err, "unknown product should fail")
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		raw   string
		base  string
		quote string
		ok    bool
	}{
		{"BTCUSDT", "BTC", "USDT", true},
		{"btcusdt", "BTC", "USDT", true},
		{"ETHBTC", "ETH", "BTC", true},
		{"SOLUSDC", "SOL", "USDC", true},
		{"USDT", "", "", false}, // suffix only, no base
		{"XYZQQQ", "", "", false},
	}
	for _, tt := range tests {
		base, quote, ok := SplitSymbol(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.base, base, tt.raw)
		assert.Equal(t, tt.quote, quote, tt.raw)
	}
}
