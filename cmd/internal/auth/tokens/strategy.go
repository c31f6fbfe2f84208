package tokens

import (
	"fmt"
	"strings"
)

// Strategy names.
const (
	StrategyPair       = "pair"
	StrategyAccessOnly = "access_only"
)

// Strategy mints the tokens for a new or rotated session.
// Exactly one strategy is selected at startup.
type Strategy interface {
	Name() string
	Mint(p Payload) (Pair, error)
}

// NewStrategy returns the strategy called name, backed by c.
func NewStrategy(name string, c *Codec) (Strategy, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil codec", ErrConfig)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyPair, "":
		return pairStrategy{codec: c}, nil
	case StrategyAccessOnly:
		return accessOnlyStrategy{codec: c}, nil
	default:
		return nil, fmt.Errorf("%w: unknown token strategy %q", ErrConfig, name)
	}
}

type pairStrategy struct{ codec *Codec }

func (pairStrategy) Name() string { return StrategyPair }

func (s pairStrategy) Mint(p Payload) (Pair, error) { return s.codec.IssueTokenPair(p) }

type accessOnlyStrategy struct{ codec *Codec }

func (accessOnlyStrategy) Name() string { return StrategyAccessOnly }

func (s accessOnlyStrategy) Mint(p Payload) (Pair, error) { return s.codec.IssueAccessOnly(p) }
