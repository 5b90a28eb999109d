package classify

import (
	"context"

	"github.com/go-pkgz/lgr"
)

// fallback classification used when no strategy produced any category
const (
	FallbackCategory   = "general"
	fallbackConfidence = 0.3
)

// Input carries everything a strategy may use to classify an article
type Input struct {
	URL     string
	Domain  string
	Title   string
	Content string
}

// Result is a classification outcome. Method is the name of the strategy
// that produced it, Attempted lists strategies tried in order.
type Result struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Method     string   `json:"method"`
	Attempted  []string `json:"attempted,omitempty"`
}

// Strategy is a single classification approach. Strategies are iterated in
// order by the cascade, adding or reordering them never touches the runner.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, inp Input) (Result, bool)
}

// Cascade runs an ordered list of strategies, short-circuiting at the first
// result clearing the configured minimum confidence
type Cascade struct {
	strategies    []Strategy
	minConfidence float64
}

// NewCascade creates a cascade over the given strategies
func NewCascade(minConfidence float64, strategies ...Strategy) *Cascade {
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = 0.75
	}
	return &Cascade{strategies: strategies, minConfidence: minConfidence}
}

// Classify runs the cascade. It never errors: below-threshold results fall
// back to the best attempted one, and with no result at all a fixed
// low-confidence fallback is returned.
func (c *Cascade) Classify(ctx context.Context, inp Input) Result {
	var attempted []string
	var best Result
	haveBest := false

	for _, s := range c.strategies {
		attempted = append(attempted, s.Name())

		res, ok := s.Attempt(ctx, inp)
		if !ok {
			continue
		}
		res.Method = s.Name()

		if res.Confidence >= c.minConfidence {
			res.Attempted = attempted
			return res
		}
		if !haveBest || res.Confidence > best.Confidence {
			best = res
			haveBest = true
		}
	}

	if haveBest {
		best.Attempted = attempted
		return best
	}

	lgr.Printf("[DEBUG] no classification for %q, using fallback", inp.URL)
	return Result{Category: FallbackCategory, Confidence: fallbackConfidence, Method: "fallback", Attempted: attempted}
}
