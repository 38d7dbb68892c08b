package creditgate

import (
	"log/slog"
	"os"
	"strconv"
)

// DefaultCredentialPrefix names the environment variables holding the pool:
// GEMINI_API_KEY_1..N and GEMINI_API_KEY_FALLBACK.
const DefaultCredentialPrefix = "GEMINI_API_KEY"

// Credential is the upstream API credential resolved for a key slot.
type Credential struct {
	Value    string
	Slot     int
	Fallback bool
}

// Configured reports whether a usable credential was found.
func (c Credential) Configured() bool { return c.Value != "" }

// KeyPool is a fixed table of upstream credentials numbered 1..N plus a fallback.
type KeyPool struct {
	keys     []string
	fallback string
}

// NewKeyPool creates a pool. keys[0] is slot 1.
func NewKeyPool(keys []string, fallback string) *KeyPool {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return &KeyPool{keys: cp, fallback: fallback}
}

// LoadKeyPoolFromEnv reads <prefix>_1, <prefix>_2, ... until the first unset
// index, and <prefix>_FALLBACK. A missing fallback is only a warning.
func LoadKeyPoolFromEnv(prefix string, logger *slog.Logger) *KeyPool {
	if prefix == "" {
		prefix = DefaultCredentialPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	var keys []string
	for i := 1; ; i++ {
		v := os.Getenv(prefix + "_" + strconv.Itoa(i))
		if v == "" {
			break
		}
		keys = append(keys, v)
	}

	fallback := os.Getenv(prefix + "_FALLBACK")
	if fallback == "" {
		logger.Warn("credential pool has no fallback key",
			"env", prefix+"_FALLBACK",
			"pool_size", len(keys),
		)
	}
	return NewKeyPool(keys, fallback)
}

// Size returns the number of numbered slots.
func (p *KeyPool) Size() int { return len(p.keys) }

// Resolve maps a slot to its credential. Slot 0, out-of-range slots and empty
// entries resolve to the fallback. It never fails; check Configured.
func (p *KeyPool) Resolve(slot int) Credential {
	if slot >= 1 && slot <= len(p.keys) && p.keys[slot-1] != "" {
		return Credential{Value: p.keys[slot-1], Slot: slot}
	}
	return p.Fallback()
}

// Fallback returns the shared fallback credential.
func (p *KeyPool) Fallback() Credential {
	return Credential{Value: p.fallback, Fallback: true}
}
