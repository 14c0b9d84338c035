package parse

import (
	"encoding/json"
	"strings"

	"github.com/deckhaven/import-service/pkg/importerr"
)

func init() {
	Register(SourceArchidekt, &ArchidektParser{})
}

// ArchidektParser handles the Archidekt deck export JSON: a flat card list
// where each entry nests the oracle card and edition, with category labels
// marking commanders and sideboard cards.
type ArchidektParser struct{}

type archidektExport struct {
	Name  string          `json:"name"`
	Cards []archidektCard `json:"cards"`
}

type archidektCard struct {
	Quantity int `json:"quantity"`
	Card     struct {
		OracleCard struct {
			Name string `json:"name"`
		} `json:"oracleCard"`
		Edition struct {
			EditionCode string `json:"editioncode"`
		} `json:"edition"`
	} `json:"card"`
	Categories []string `json:"categories"`
}

func (p *ArchidektParser) Parse(raw []byte, opts Options) (*Payload, error) {
	var export archidektExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, importerr.Parsing("invalid Archidekt JSON: %v", err)
	}
	if len(export.Cards) == 0 {
		return nil, importerr.Parsing("Archidekt export has no cards")
	}

	deck := Deck{Name: export.Name}
	for i, entry := range export.Cards {
		name := entry.Card.OracleCard.Name
		if name == "" {
			return nil, importerr.Parsing("Archidekt card %d has no name", i)
		}
		if hasCategory(entry.Categories, "sideboard") || hasCategory(entry.Categories, "maybeboard") {
			continue
		}
		if deck.Commander == "" && hasCategory(entry.Categories, "commander") {
			deck.Commander = name
		}
		qty := entry.Quantity
		if qty <= 0 {
			qty = 1
		}
		deck.Cards = append(deck.Cards, Card{
			RawName:  name,
			Quantity: qty,
			SetCode:  strings.ToLower(entry.Card.Edition.EditionCode),
		})
	}

	return validate(&Payload{Decks: []Deck{deck}}, opts)
}

func hasCategory(categories []string, want string) bool {
	for _, c := range categories {
		if strings.EqualFold(c, want) {
			return true
		}
	}
	return false
}
