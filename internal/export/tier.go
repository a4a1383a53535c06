package export

import (
	"fmt"
	"strings"
)

// Tier is the subscription level. It only affects watermarking.
type Tier int

const (
	TierFree Tier = iota
	TierPro
)

func (t Tier) String() string {
	if t == TierPro {
		return "pro"
	}
	return "free"
}

// ParseTier accepts "free" or "pro", case-insensitively
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free":
		return TierFree, nil
	case "pro":
		return TierPro, nil
	default:
		return TierFree, fmt.Errorf("unknown tier %q", s)
	}
}

// MarshalText encodes the tier by name
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
