package discovery

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"onchain-sip/internal/domain"
)

// Sweep defaults.
const (
	DefaultSweepDays     = 7
	DefaultSweepStep     = 4 * time.Hour
	DefaultMaxCandidates = 30
)

// Generator produces the candidate identifiers probed for an owner.
//
// Known identifiers come first, then the default identifier, then a sweep of
// creation-time names over the last Days days at Step granularity. The list is
// truncated to Max, so identifiers created outside the window, or named some
// other way, are only found once they are known.
type Generator struct {
	Now  func() time.Time
	Days int
	Step time.Duration
	Max  int
}

// NewGenerator returns a generator with default sweep settings.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		Now:  now,
		Days: DefaultSweepDays,
		Step: DefaultSweepStep,
		Max:  DefaultMaxCandidates,
	}
}

// Generate returns the deduplicated, ordered candidate list.
// The same owner, known list and clock always yield the same sequence.
func (g *Generator) Generate(owner common.Address, known []string) []string {
	limit := g.Max
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}

	seen := make(map[string]bool, limit)
	out := make([]string, 0, limit)
	add := func(id string) bool {
		if len(out) >= limit {
			return false
		}
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
		return true
	}

	for _, id := range known {
		if !add(id) {
			return out
		}
	}
	if !add(domain.DefaultIdentifier) {
		return out
	}

	step := g.Step
	if step <= 0 {
		step = DefaultSweepStep
	}
	now := g.Now()
	for day := 0; day < g.Days; day++ {
		for offset := time.Duration(0); offset < 24*time.Hour; offset += step {
			at := now.Add(-time.Duration(day)*24*time.Hour - offset)
			if !add(domain.NewIdentifier(owner, at)) {
				return out
			}
		}
	}
	return out
}
