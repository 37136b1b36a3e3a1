// Package fingerprint derives stable cache keys from item identity and content.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "emb:"

// Of returns a stable key for the given parts. Changing any part changes the key,
// so a record whose description or photo URL is edited gets a fresh key.
func Of(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		// Length-prefix each part so ("ab","c") and ("a","bc") differ.
		h.Write([]byte{byte(len(p) >> 24), byte(len(p) >> 16), byte(len(p) >> 8), byte(len(p))})
		h.Write([]byte(p))
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}

// Content returns the key for an embedding of content belonging to collection/id.
func Content(collection, id, content string) string {
	return Of(collection, id, strings.TrimSpace(content))
}
