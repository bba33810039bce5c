package ws

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign produces the hex-encoded HMAC-SHA256 subscription signature used by
// venues with authenticated feeds. The prehash is
// timestamp || channel || comma-joined-symbols.
func Sign(secret, timestamp, channel string, symbols []string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(channel))
	mac.Write([]byte(strings.Join(symbols, ",")))
	return hex.EncodeToString(mac.Sum(nil))
}
