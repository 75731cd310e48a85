package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix namespaces all cache keys in Redis.
const KeyPrefix = "pdb:search:"

// Key identifies a cached search response.
type Key struct {
	// Endpoint is the search endpoint URL without query string.
	Endpoint string

	// Query is the encoded JSON request body.
	Query []byte
}

// String generates a deterministic cache key.
// Format: pdb:search:<sha256 hex of endpoint + "\n" + query>
func (k Key) String() string {
	h := sha256.New()
	h.Write([]byte(strings.TrimRight(k.Endpoint, "/")))
	h.Write([]byte{'\n'})
	h.Write(k.Query)
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}
