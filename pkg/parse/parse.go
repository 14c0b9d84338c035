// Package parse turns raw deck exports into a normalized payload the import
// pipeline can resolve and commit. One parser per import source, registered
// behind a single interface so orchestration never branches on the source.
package parse

import (
	"fmt"
	"sort"
	"sync"

	"github.com/deckhaven/import-service/pkg/importerr"
)

// Source identifies where a deck export came from.
type Source string

const (
	SourceMoxfield    Source = "moxfield"
	SourceArchidekt   Source = "archidekt"
	SourceTappedOut   Source = "tappedout"
	SourceEDHREC      Source = "edhrec"
	SourceMTGGoldfish Source = "mtggoldfish"
	SourceCSV         Source = "csv"
	SourceText        Source = "text"
	SourceCustom      Source = "custom"
)

// Card is one normalized card line: a raw name awaiting resolution plus
// whatever printing metadata the source carried.
type Card struct {
	RawName   string `json:"rawName"`
	Quantity  int    `json:"quantity"`
	SetCode   string `json:"setCode,omitempty"`
	Condition string `json:"condition,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Deck is one deck within a payload.
type Deck struct {
	Name      string `json:"name"`
	Commander string `json:"commander,omitempty"`
	Cards     []Card `json:"cards"`
}

// Payload is the normalized output of every parser.
type Payload struct {
	Decks []Deck `json:"decks"`
}

// TotalCards returns the number of card lines across all decks.
func (p *Payload) TotalCards() int {
	n := 0
	for _, d := range p.Decks {
		n += len(d.Cards)
	}
	return n
}

// Options carries per-job parser configuration.
type Options struct {
	// CustomFields maps logical fields (name, quantity, set, deck,
	// commander, condition, language) to source column headers. Required
	// for the custom source, optional for csv.
	CustomFields map[string]string
	// Delimiter overrides CSV delimiter auto-detection when non-zero.
	Delimiter rune
	// DefaultDeckName is used when the source carries no deck name.
	DefaultDeckName string
}

// Parser converts raw input into a Payload. Implementations must be
// stateless, deterministic, and total: malformed input yields an
// importerr.Error, never a panic.
type Parser interface {
	Parse(raw []byte, opts Options) (*Payload, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[Source]Parser{}
)

// Register adds a parser for a source. Called from package init of each
// parser file; duplicate registration panics since it is a programming error.
func Register(source Source, p Parser) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[source]; exists {
		panic(fmt.Sprintf("parse: parser already registered for source %q", source))
	}
	registry[source] = p
}

// ForSource returns the parser registered for a source.
func ForSource(source Source) (Parser, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[source]
	return p, ok
}

// Sources returns all registered sources in sorted order.
func Sources() []Source {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Source, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseSource looks up the parser for a source and runs it.
func ParseSource(source Source, raw []byte, opts Options) (*Payload, error) {
	p, ok := ForSource(source)
	if !ok {
		return nil, importerr.Error{
			Type:        importerr.TypeInvalidFormat,
			Severity:    importerr.SeverityError,
			Recoverable: false,
			Message:     fmt.Sprintf("unsupported import source %q", source),
		}
	}
	return p.Parse(raw, opts)
}

// validate rejects empty payloads and normalizes defaults so every parser
// returns decks with a name and positive quantities.
func validate(p *Payload, opts Options) (*Payload, error) {
	if len(p.Decks) == 0 {
		return nil, importerr.Parsing("input contains no decks")
	}
	for i := range p.Decks {
		if p.Decks[i].Name == "" {
			if opts.DefaultDeckName != "" {
				p.Decks[i].Name = opts.DefaultDeckName
			} else {
				p.Decks[i].Name = fmt.Sprintf("Imported Deck %d", i+1)
			}
		}
		if len(p.Decks[i].Cards) == 0 {
			return nil, importerr.Parsing("deck %q contains no cards", p.Decks[i].Name)
		}
		for j := range p.Decks[i].Cards {
			if p.Decks[i].Cards[j].Quantity <= 0 {
				p.Decks[i].Cards[j].Quantity = 1
			}
		}
	}
	return p, nil
}
