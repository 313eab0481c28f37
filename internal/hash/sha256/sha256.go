// Package sha256 fingerprints fetched page bodies.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

var _ crawler.Hasher = Hasher{}

// New returns a SHA-256 hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the lower-case hex digest of body.
func (Hasher) Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
