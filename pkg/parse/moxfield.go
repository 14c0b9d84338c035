package parse

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/deckhaven/import-service/pkg/importerr"
)

func init() {
	Register(SourceMoxfield, &MoxfieldParser{})
}

// MoxfieldParser handles the Moxfield deck export JSON: card names keyed
// into "commanders" and "mainboard" maps, each entry carrying a quantity
// and printing info. Map iteration order is not deterministic in Go, so
// cards are emitted sorted by name to keep parsing reproducible.
type MoxfieldParser struct{}

type moxfieldExport struct {
	Name       string                   `json:"name"`
	Commanders map[string]moxfieldEntry `json:"commanders"`
	Mainboard  map[string]moxfieldEntry `json:"mainboard"`
}

type moxfieldEntry struct {
	Quantity int `json:"quantity"`
	Card     struct {
		Set string `json:"set"`
	} `json:"card"`
}

func (p *MoxfieldParser) Parse(raw []byte, opts Options) (*Payload, error) {
	var export moxfieldExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, importerr.Parsing("invalid Moxfield JSON: %v", err)
	}
	if len(export.Mainboard) == 0 && len(export.Commanders) == 0 {
		return nil, importerr.Parsing("Moxfield export has no mainboard or commanders")
	}

	deck := Deck{Name: export.Name}
	for _, name := range sortedKeys(export.Commanders) {
		entry := export.Commanders[name]
		if deck.Commander == "" {
			deck.Commander = name
		}
		deck.Cards = append(deck.Cards, moxfieldCard(name, entry))
	}
	for _, name := range sortedKeys(export.Mainboard) {
		deck.Cards = append(deck.Cards, moxfieldCard(name, export.Mainboard[name]))
	}

	return validate(&Payload{Decks: []Deck{deck}}, opts)
}

func moxfieldCard(name string, entry moxfieldEntry) Card {
	qty := entry.Quantity
	if qty <= 0 {
		qty = 1
	}
	return Card{RawName: name, Quantity: qty, SetCode: strings.ToLower(entry.Card.Set)}
}

func sortedKeys(m map[string]moxfieldEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
