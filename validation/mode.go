// Package validation applies retrieved rules to content at two depths:
// selective (a fast 3-4 rule check for human-in-the-loop checkpoints)
// and comprehensive (the authoritative 8-12 rule gate).
//
// Modes form a closed set. Adding a mode means adding a type-checked
// strategy here, not a runtime string branch.
package validation

import (
	"github.com/c360/rulegate/errors"
)

// Mode identifies a validation depth.
type Mode string

const (
	// Selective is the lightweight check: top_k=4, 3-4 rules applied.
	Selective Mode = "selective"
	// Comprehensive is the authoritative gate: top_k=12, 8-12 rules applied.
	Comprehensive Mode = "comprehensive"
)

// ParseMode converts a wire string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Selective:
		return Selective, nil
	case Comprehensive:
		return Comprehensive, nil
	default:
		return "", errors.WrapInvalid(errors.ErrUnknownMode, "validation", "ParseMode", "parse mode "+s)
	}
}

// Strategy fixes the retrieval and application parameters for a mode.
type Strategy interface {
	// Mode returns the mode this strategy implements.
	Mode() Mode

	// TopK is the number of rules requested from the store.
	TopK() int

	// Window is the expected applied-rule count range. Fewer rules are
	// returned only when fewer clear the similarity floor: best effort,
	// never padded with synthetic rules.
	Window() (min, max int)
}

type selectiveStrategy struct{ topK int }

func (s selectiveStrategy) Mode() Mode             { return Selective }
func (s selectiveStrategy) TopK() int              { return s.topK }
func (s selectiveStrategy) Window() (min, max int) { return 3, 4 }

type comprehensiveStrategy struct{ topK int }

func (s comprehensiveStrategy) Mode() Mode             { return Comprehensive }
func (s comprehensiveStrategy) TopK() int              { return s.topK }
func (s comprehensiveStrategy) Window() (min, max int) { return 8, 12 }

// StrategyFor returns the strategy for a mode. Top-k values of zero
// fall back to the mode defaults (4 selective, 12 comprehensive).
func StrategyFor(mode Mode, selectiveTopK, comprehensiveTopK int) (Strategy, error) {
	if selectiveTopK <= 0 {
		selectiveTopK = 4
	}
	if comprehensiveTopK <= 0 {
		comprehensiveTopK = 12
	}

	switch mode {
	case Selective:
		return selectiveStrategy{topK: selectiveTopK}, nil
	case Comprehensive:
		return comprehensiveStrategy{topK: comprehensiveTopK}, nil
	default:
		return nil, errors.WrapInvalid(errors.ErrUnknownMode, "validation", "StrategyFor", "select strategy")
	}
}
