package classify

import (
	"context"
	"sort"
	"strings"

	"github.com/go-pkgz/lgr"
)

// confidence levels per strategy, url patterns are the highest-trust signal
const (
	urlConfidence    = 0.95
	domainConfidence = 0.85
	keywordMaxConf   = 0.9
	defaultAIConf    = 0.9
	keywordBaseConf  = 0.3
	keywordScoreStep = 0.1
)

// defaultURLPatterns maps categories to path fragments commonly used by
// news sites. The fragment list covers both Spanish and English section names.
var defaultURLPatterns = map[string][]string{
	"economia":      {"/economia/", "/economy/", "/business/", "/negocios/", "/finanzas/"},
	"politica":      {"/politica/", "/politics/", "/elecciones/"},
	"deportes":      {"/deportes/", "/sports/", "/futbol/"},
	"tecnologia":    {"/tecnologia/", "/technology/", "/tech/", "/ciencia/"},
	"cultura":       {"/cultura/", "/culture/", "/arte/", "/entertainment/", "/espectaculos/"},
	"internacional": {"/internacional/", "/world/", "/mundo/"},
	"sociedad":      {"/sociedad/", "/society/", "/local/"},
	"salud":         {"/salud/", "/health/"},
}

// defaultKeywords maps categories to weighted keywords scored over
// title and content
var defaultKeywords = map[string]map[string]float64{
	"economia":      {"inflacion": 2, "mercado": 1, "economia": 2, "dolar": 2, "banco": 1, "inversion": 1, "empleo": 1, "pib": 2, "impuestos": 1},
	"politica":      {"gobierno": 1, "presidente": 1, "congreso": 2, "elecciones": 2, "ministro": 1, "decreto": 2, "senado": 2},
	"deportes":      {"partido": 1, "gol": 2, "campeonato": 2, "equipo": 1, "jugador": 1, "torneo": 2, "final": 1},
	"tecnologia":    {"software": 2, "inteligencia": 1, "artificial": 1, "startup": 2, "ciberseguridad": 2, "aplicacion": 1, "datos": 1},
	"cultura":       {"pelicula": 2, "musica": 1, "festival": 2, "libro": 1, "teatro": 2, "exposicion": 2},
	"internacional": {"guerra": 1, "frontera": 1, "tratado": 2, "embajada": 2, "onu": 2},
	"salud":         {"hospital": 1, "vacuna": 2, "enfermedad": 1, "tratamiento": 1, "pandemia": 2},
}

// URLStrategy matches the article URL against a category to path-fragment
// table. A hit is the highest-trust signal the cascade has.
type URLStrategy struct {
	patterns map[string][]string
}

// NewURLStrategy creates a url-pattern strategy, nil patterns use the defaults
func NewURLStrategy(patterns map[string][]string) *URLStrategy {
	if patterns == nil {
		patterns = defaultURLPatterns
	}
	return &URLStrategy{patterns: patterns}
}

// Name returns the strategy tag
func (s *URLStrategy) Name() string { return "url" }

// Attempt matches the lowercased URL against the fragment table.
// Categories are checked in sorted order to keep results deterministic.
func (s *URLStrategy) Attempt(_ context.Context, inp Input) (Result, bool) {
	if inp.URL == "" {
		return Result{}, false
	}
	lowered := strings.ToLower(inp.URL)

	for _, category := range sortedKeys(s.patterns) {
		for _, fragment := range s.patterns[category] {
			if strings.Contains(lowered, fragment) {
				return Result{Category: category, Confidence: urlConfidence}, true
			}
		}
	}
	return Result{}, false
}

// DomainStrategy assigns a category from a per-source rule table for
// known single-topic domains
type DomainStrategy struct {
	rules map[string]string // host -> category
}

// NewDomainStrategy creates a domain-rule strategy
func NewDomainStrategy(rules map[string]string) *DomainStrategy {
	if rules == nil {
		rules = map[string]string{}
	}
	return &DomainStrategy{rules: rules}
}

// Name returns the strategy tag
func (s *DomainStrategy) Name() string { return "domain" }

// Attempt looks the article's host up in the rule table, www prefix ignored
func (s *DomainStrategy) Attempt(_ context.Context, inp Input) (Result, bool) {
	host := strings.ToLower(strings.TrimPrefix(inp.Domain, "www."))
	if host == "" {
		return Result{}, false
	}
	if category, ok := s.rules[host]; ok {
		return Result{Category: category, Confidence: domainConfidence}, true
	}
	return Result{}, false
}

// KeywordStrategy scores weighted keyword hits over title and content per
// category, title hits counting double. Confidence grows with the match
// score and is capped below the url and domain strategies.
type KeywordStrategy struct {
	keywords map[string]map[string]float64
}

// NewKeywordStrategy creates a keyword-scoring strategy, nil uses defaults
func NewKeywordStrategy(keywords map[string]map[string]float64) *KeywordStrategy {
	if keywords == nil {
		keywords = defaultKeywords
	}
	return &KeywordStrategy{keywords: keywords}
}

// Name returns the strategy tag
func (s *KeywordStrategy) Name() string { return "keyword" }

// Attempt picks the best-scoring category, false when nothing matched
func (s *KeywordStrategy) Attempt(_ context.Context, inp Input) (Result, bool) {
	titleTokens := tokenSet(inp.Title)
	contentTokens := tokenSet(inp.Content)
	if len(titleTokens) == 0 && len(contentTokens) == 0 {
		return Result{}, false
	}

	bestCategory := ""
	bestScore := 0.0
	for _, category := range sortedKeys(s.keywords) {
		score := 0.0
		for keyword, weight := range s.keywords[category] {
			if _, ok := titleTokens[keyword]; ok {
				score += weight * 2
			}
			if _, ok := contentTokens[keyword]; ok {
				score += weight
			}
		}
		if score > bestScore {
			bestScore = score
			bestCategory = category
		}
	}

	if bestCategory == "" {
		return Result{}, false
	}

	confidence := keywordBaseConf + bestScore*keywordScoreStep
	if confidence > keywordMaxConf {
		confidence = keywordMaxConf
	}
	return Result{Category: bestCategory, Confidence: confidence}, true
}

// Completion is the LLM capability the AI strategy calls, implemented by
// the llm client
type Completion interface {
	Classify(ctx context.Context, title, content string, categories []string) (category string, confidence float64, err error)
}

// AIStrategy asks the LLM for a category. It sits last in the cascade so
// it only runs when the deterministic strategies stayed below threshold.
type AIStrategy struct {
	completion Completion
	categories []string
}

// NewAIStrategy creates an llm-backed strategy restricted to the given
// category set
func NewAIStrategy(completion Completion, categories []string) *AIStrategy {
	return &AIStrategy{completion: completion, categories: categories}
}

// Name returns the strategy tag
func (s *AIStrategy) Name() string { return "ai" }

// Attempt calls the completion capability, a failed call is just a miss
func (s *AIStrategy) Attempt(ctx context.Context, inp Input) (Result, bool) {
	if s.completion == nil {
		return Result{}, false
	}
	category, confidence, err := s.completion.Classify(ctx, inp.Title, inp.Content, s.categories)
	if err != nil {
		lgr.Printf("[WARN] ai classification failed for %q: %v", inp.URL, err)
		return Result{}, false
	}
	if category == "" {
		return Result{}, false
	}
	if confidence <= 0 {
		confidence = defaultAIConf
	}
	return Result{Category: category, Confidence: confidence}, true
}

// DefaultCategories returns the union of categories known to the default
// strategies, used to restrict the llm strategy to the same vocabulary
func DefaultCategories() []string {
	seen := map[string]struct{}{FallbackCategory: {}}
	for category := range defaultURLPatterns {
		seen[category] = struct{}{}
	}
	for category := range defaultKeywords {
		seen[category] = struct{}{}
	}
	return sortedKeys(seen)
}

// tokenSet lowercases and tokenizes text into a set
func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, ".,;:!?\"'()[]")] = struct{}{}
	}
	return set
}

// sortedKeys returns map keys in sorted order for deterministic iteration
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
