package stock

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// VariantSignature derives a stable signature distinguishing otherwise
// identical holds by their customization options and free-text note. Options
// are normalized (trimmed, lowercased, sorted) so the same customization
// always hashes the same way regardless of submission order.
func VariantSignature(options []string, note string) string {
	normalized := make([]string, 0, len(options))
	for _, opt := range options {
		opt = strings.ToLower(strings.TrimSpace(opt))
		if opt != "" {
			normalized = append(normalized, opt)
		}
	}
	sort.Strings(normalized)

	h := sha256.New()
	for _, opt := range normalized {
		h.Write([]byte(opt))
		h.Write([]byte{0})
	}
	h.Write([]byte(strings.TrimSpace(note)))

	return hex.EncodeToString(h.Sum(nil))[:16]
}
