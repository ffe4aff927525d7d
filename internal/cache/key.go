package cache

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Key builds the deterministic fingerprint for a logical LLM request.
// Fields are joined with NUL separators before hashing so that no
// concatenation of adjacent fields can collide. Prompt whitespace is hashed
// as-is; callers normalize if they want whitespace-insensitive keys.
func Key(model, temperatureClass, prompt, capability, scope string) string {
	h := blake3.New()
	for _, part := range []string{model, temperatureClass, prompt, capability, scope} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
