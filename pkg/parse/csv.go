package parse

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/deckhaven/import-service/pkg/importerr"
)

func init() {
	Register(SourceCSV, &CSVParser{})
	Register(SourceCustom, &CSVParser{RequireMapping: true})
}

// CSVParser handles delimiter-separated collection exports. The delimiter
// (comma, semicolon, or tab) is auto-detected from the header row unless
// overridden. Columns are mapped by header name using a set of common
// aliases; Options.CustomFields overrides the mapping entirely. Rows with
// the same value in the deck column are grouped into one deck.
//
// The custom source reuses this parser but refuses to guess: CustomFields
// must be provided.
type CSVParser struct {
	RequireMapping bool
}

// Logical field keys accepted in Options.CustomFields.
const (
	FieldName      = "name"
	FieldQuantity  = "quantity"
	FieldSet       = "set"
	FieldDeck      = "deck"
	FieldCommander = "commander"
	FieldCondition = "condition"
	FieldLanguage  = "language"
)

// columnAliases maps logical fields to accepted header names, checked
// case-insensitively.
var columnAliases = map[string][]string{
	FieldName:      {"name", "card", "card name", "card_name"},
	FieldQuantity:  {"quantity", "qty", "count", "amount"},
	FieldSet:       {"set", "set code", "set_code", "edition", "expansion"},
	FieldDeck:      {"deck", "deck name", "deck_name", "folder"},
	FieldCommander: {"commander"},
	FieldCondition: {"condition", "cond"},
	FieldLanguage:  {"language", "lang"},
}

func (p *CSVParser) Parse(raw []byte, opts Options) (*Payload, error) {
	if p.RequireMapping && len(opts.CustomFields) == 0 {
		return nil, importerr.Validation("custom source requires a customFields column mapping")
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = detectDelimiter(raw)
	}

	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = delim
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, importerr.Parsing("reading CSV header: %v", err)
	}

	cols, err := mapColumns(header, opts.CustomFields)
	if err != nil {
		return nil, err
	}

	decks := map[string]*Deck{}
	var order []string
	rowNo := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNo++
		if err != nil {
			return nil, importerr.Parsing("row %d: %v", rowNo, err)
		}

		get := func(field string) string {
			idx, ok := cols[field]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		name := get(FieldName)
		if name == "" {
			return nil, importerr.Validation("row %d: missing card name", rowNo)
		}
		qty := 1
		if q := get(FieldQuantity); q != "" {
			qty, err = strconv.Atoi(q)
			if err != nil || qty <= 0 {
				return nil, importerr.Validation("row %d: invalid quantity %q", rowNo, q)
			}
		}

		deckName := get(FieldDeck)
		deck, ok := decks[strings.ToLower(deckName)]
		if !ok {
			deck = &Deck{Name: deckName}
			decks[strings.ToLower(deckName)] = deck
			order = append(order, strings.ToLower(deckName))
		}
		if c := get(FieldCommander); c != "" && deck.Commander == "" {
			deck.Commander = c
		}
		deck.Cards = append(deck.Cards, Card{
			RawName:   name,
			Quantity:  qty,
			SetCode:   strings.ToLower(get(FieldSet)),
			Condition: get(FieldCondition),
			Language:  get(FieldLanguage),
		})
	}

	payload := &Payload{}
	for _, key := range order {
		payload.Decks = append(payload.Decks, *decks[key])
	}
	return validate(payload, opts)
}

// mapColumns resolves logical fields to header indexes. When custom is
// non-empty it is authoritative; otherwise aliases are tried. The name
// column is required, everything else optional.
func mapColumns(header []string, custom map[string]string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	cols := map[string]int{}
	if len(custom) > 0 {
		for field, colName := range custom {
			idx, ok := byName[strings.ToLower(strings.TrimSpace(colName))]
			if !ok {
				return nil, importerr.Validation("customFields: column %q for field %q not found in header", colName, field)
			}
			cols[field] = idx
		}
	} else {
		for field, aliases := range columnAliases {
			for _, alias := range aliases {
				if idx, ok := byName[alias]; ok {
					cols[field] = idx
					break
				}
			}
		}
	}

	if _, ok := cols[FieldName]; !ok {
		return nil, importerr.Validation("could not map required column %q from header %v", FieldName, header)
	}
	return cols, nil
}

// detectDelimiter picks the delimiter that splits the first line into the
// most fields. Comma wins ties.
func detectDelimiter(raw []byte) rune {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []byte{';', '\t'} {
		if n := bytes.Count(line, []byte{d}); n > bestCount {
			best, bestCount = rune(d), n
		}
	}
	return best
}
