// Package identity maps natural document keys to vector index point ids.
//
// The mapping is a pure function of the key: repeated runs over the same
// corpus touch the same points, so upserts converge instead of duplicating.
package identity

import (
	"crypto/md5" //nolint:gosec // non-secret content address, not a security primitive
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyID is returned when an empty external id is mapped.
var ErrEmptyID = errors.New("external id is empty")

// Strategy selects how external ids become point ids.
type Strategy string

const (
	// StrategyAuto canonicalizes ids that already are 128-bit identifiers
	// (with or without dashes, any case) and hashes everything else.
	StrategyAuto Strategy = "auto"

	// StrategyHash always hashes the external id.
	StrategyHash Strategy = "hash"
)

// Mapper converts external ids to canonical UUID strings.
type Mapper struct {
	strategy Strategy
}

// NewMapper returns a Mapper for the given strategy. An empty strategy means auto.
func NewMapper(strategy Strategy) (*Mapper, error) {
	switch strategy {
	case "":
		strategy = StrategyAuto
	case StrategyAuto, StrategyHash:
	default:
		return nil, fmt.Errorf("unknown identity strategy %q", strategy)
	}
	return &Mapper{strategy: strategy}, nil
}

// Strategy returns the configured strategy.
func (m *Mapper) Strategy() Strategy {
	return m.strategy
}

// Map returns the point id for externalID.
func (m *Mapper) Map(externalID string) (string, error) {
	if externalID == "" {
		return "", ErrEmptyID
	}
	if m.strategy == StrategyAuto {
		if id, ok := Canonical(externalID); ok {
			return id, nil
		}
	}
	return Hash(externalID), nil
}

// Canonical parses a loosely formatted 128-bit identifier. Dashes are
// ignored so that "1a2b...-" style export ids and bare 32-hex ids map to
// the same value.
func Canonical(s string) (string, bool) {
	compact := strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	if len(compact) != 32 {
		return "", false
	}
	id, err := uuid.Parse(compact)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// Hash formats the MD5 digest of s in the 8-4-4-4-12 layout.
// The digest bytes are used as-is; no version bits are set.
func Hash(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	id, _ := uuid.FromBytes(sum[:])
	return id.String()
}
