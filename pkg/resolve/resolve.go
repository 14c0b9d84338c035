// Package resolve maps free-text card names to canonical card identifiers.
// The reference card database is a collaborator behind the CardService
// interface; this package owns only the resolution policy: exact matches,
// most-recent-printing selection, fuzzy matching with thresholds, and
// suggestion generation. Resolution is deterministic for identical input so
// previews and commits observe the same outcome.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/deckhaven/import-service/pkg/cache"
	"github.com/deckhaven/import-service/pkg/importerr"
)

// Printing is one printing of a card in the reference database.
type Printing struct {
	CardID     string
	Name       string
	SetCode    string
	ReleasedAt time.Time
}

// CardService is the card reference database boundary. Search returns
// candidate printings for a name query, exact and near matches included.
type CardService interface {
	Search(ctx context.Context, name string) ([]Printing, error)
}

// Resolution is the outcome of resolving one raw card name.
type Resolution struct {
	CardID     string
	Name       string
	SetCode    string
	Confidence float64
	// Ambiguous is set when confidence landed between the hard-fail and
	// safe thresholds; the conflict detector turns this into an
	// ambiguous-card-match conflict.
	Ambiguous bool
	// Warning is non-nil when a variant substitution happened.
	Warning *importerr.Error
}

// Config holds the resolution policy thresholds.
type Config struct {
	// SafeThreshold is the similarity at or above which a fuzzy match is
	// accepted without an ambiguity flag. Default 0.90.
	SafeThreshold float64
	// MinThreshold is the similarity below which resolution fails with
	// card_not_found. Default 0.75.
	MinThreshold float64
	// CacheSize and CacheTTL bound the resolution cache.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns the default resolution policy configuration.
func DefaultConfig() Config {
	return Config{
		SafeThreshold: 0.90,
		MinThreshold:  0.75,
		CacheSize:     4096,
		CacheTTL:      10 * time.Minute,
	}
}

// Resolver applies the resolution policy on top of a CardService. Caching
// resolutions keeps a preview and its later commit on the same answer
// without a second CardService round trip.
type Resolver struct {
	service CardService
	cfg     Config
	cache   *cache.LRUCache
}

// NewResolver creates a Resolver. A zero-value cfg falls back to defaults.
func NewResolver(service CardService, cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.SafeThreshold <= 0 || cfg.SafeThreshold > 1 {
		cfg.SafeThreshold = def.SafeThreshold
	}
	if cfg.MinThreshold <= 0 || cfg.MinThreshold > cfg.SafeThreshold {
		cfg.MinThreshold = def.MinThreshold
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	return &Resolver{
		service: service,
		cfg:     cfg,
		cache:   cache.NewLRUCache(cfg.CacheSize, cfg.CacheTTL),
	}
}

// Resolve maps a raw name (and optional set code) to a canonical card.
// A failed resolution returns an importerr.Error of type card_not_found;
// any other error is a CardService failure.
func (r *Resolver) Resolve(ctx context.Context, rawName, setCode string) (Resolution, error) {
	key := strings.ToLower(rawName) + "|" + strings.ToLower(setCode)
	if v, ok := r.cache.Get(key); ok {
		if res, ok := v.(Resolution); ok {
			return res, nil
		}
	}

	candidates, err := r.service.Search(ctx, rawName)
	if err != nil {
		return Resolution{}, fmt.Errorf("card search %q: %w", rawName, err)
	}

	res, err := r.pick(rawName, setCode, candidates)
	if err != nil {
		return Resolution{}, err
	}
	r.cache.Set(key, res)
	return res, nil
}

// pick applies the policy to the candidate list. Candidate ordering is
// total (similarity desc, release date desc, card id asc) so the outcome
// never depends on CardService ordering.
func (r *Resolver) pick(rawName, setCode string, candidates []Printing) (Resolution, error) {
	if len(candidates) == 0 {
		return Resolution{}, importerr.CardNotFound(rawName, nil)
	}

	type scored struct {
		Printing
		similarity float64
	}
	scoredCandidates := make([]scored, len(candidates))
	for i, c := range candidates {
		scoredCandidates[i] = scored{c, similarity(rawName, c.Name)}
	}
	sort.Slice(scoredCandidates, func(i, j int) bool {
		a, b := scoredCandidates[i], scoredCandidates[j]
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
		if !a.ReleasedAt.Equal(b.ReleasedAt) {
			return a.ReleasedAt.After(b.ReleasedAt)
		}
		return a.CardID < b.CardID
	})

	best := scoredCandidates[0]

	// Exact name and exact set: confidence 1.0, no warning.
	if best.similarity == 1 && setCode != "" {
		for _, c := range scoredCandidates {
			if c.similarity == 1 && strings.EqualFold(c.SetCode, setCode) {
				return Resolution{CardID: c.CardID, Name: c.Name, SetCode: c.SetCode, Confidence: 1.0}, nil
			}
		}
	}

	// Exact name, set absent or not matched: most recent printing,
	// flagged as a variant when a specific set was requested.
	if best.similarity == 1 {
		res := Resolution{CardID: best.CardID, Name: best.Name, SetCode: best.SetCode, Confidence: 0.95}
		if setCode != "" {
			w := importerr.CardVariant(rawName, fmt.Sprintf("no printing of %q in set %q; using %s", rawName, setCode, best.SetCode))
			res.Warning = &w
		} else if countExact(scoredCandidates[0].Name, candidates) > 1 {
			w := importerr.CardVariant(rawName, fmt.Sprintf("multiple printings of %q; using most recent (%s)", rawName, best.SetCode))
			res.Warning = &w
		} else {
			res.Confidence = 1.0
		}
		return res, nil
	}

	// Fuzzy match.
	if best.similarity >= r.cfg.MinThreshold {
		w := importerr.CardVariant(rawName, fmt.Sprintf("%q matched %q (similarity %.2f)", rawName, best.Name, best.similarity))
		return Resolution{
			CardID:     best.CardID,
			Name:       best.Name,
			SetCode:    best.SetCode,
			Confidence: best.similarity,
			Ambiguous:  best.similarity < r.cfg.SafeThreshold,
			Warning:    &w,
		}, nil
	}

	// Below the hard-fail threshold: collect suggestions, best first.
	var suggestions []string
	seen := map[string]bool{}
	for _, c := range scoredCandidates {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		suggestions = append(suggestions, c.Name)
		if len(suggestions) == importerr.MaxSuggestions {
			break
		}
	}
	return Resolution{}, importerr.CardNotFound(rawName, suggestions)
}

// similarity is 1 - levenshtein/maxLen over case-folded names.
func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(maxLen)
}

func countExact(name string, candidates []Printing) int {
	n := 0
	for _, c := range candidates {
		if strings.EqualFold(c.Name, name) {
			n++
		}
	}
	return n
}
