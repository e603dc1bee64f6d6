package types

import (
	"fmt"
	"strings"
)

// Mode selects how external-service failures are handled by a worker
// instance. A worker runs in exactly one mode.
type Mode string

const (
	// ModeStrict surfaces service failures; the packet is retried later.
	ModeStrict Mode = "strict"

	// ModeDegraded substitutes placeholder attestations and proofs. Test
	// deployments only: placeholders are not verifiable on chain.
	ModeDegraded Mode = "degraded"
)

// ParseMode parses a mode flag value. The empty string means strict.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModeDegraded:
		return ModeDegraded, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeStrict, ModeDegraded)
	}
}

func (m Mode) Degraded() bool { return m == ModeDegraded }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
