package parse

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/deckhaven/import-service/pkg/importerr"
)

func init() {
	Register(SourceText, &TextParser{})
}

// TextParser handles plain-text decklists: one card per line as `qty name`,
// `qty x name`, or a bare name (quantity 1). Lines starting with // or # are
// comments. A `Deck: <name>` header starts a new deck; `Commander: <name>`
// sets the current deck's commander. Section headers such as "Sideboard"
// and "Maybeboard" end the main list for the current deck.
type TextParser struct{}

// cardLineRe matches "3 Sol Ring", "3x Sol Ring", and "3 Sol Ring (C21)".
var cardLineRe = regexp.MustCompile(`^(\d+)\s*[xX]?\s+(.+?)(?:\s+\(([A-Za-z0-9]{2,6})\))?\s*$`)

var sectionHeaders = map[string]bool{
	"sideboard":   true,
	"maybeboard":  true,
	"considering": true,
	"tokens":      true,
}

func (p *TextParser) Parse(raw []byte, opts Options) (*Payload, error) {
	payload := &Payload{}
	cur := &Deck{}
	skipping := false

	flush := func() {
		if len(cur.Cards) > 0 || cur.Name != "" {
			payload.Decks = append(payload.Decks, *cur)
		}
		cur = &Deck{}
		skipping = false
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			// A blank line after cards separates decks in multi-deck lists.
			if len(cur.Cards) > 0 {
				flush()
			}
			continue
		case strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#"):
			continue
		}

		if name, ok := headerValue(line, "deck"); ok {
			if len(cur.Cards) > 0 {
				flush()
			}
			cur.Name = name
			skipping = false
			continue
		}
		if name, ok := headerValue(line, "commander"); ok {
			cur.Commander = name
			continue
		}
		if sectionHeaders[strings.ToLower(strings.TrimSuffix(line, ":"))] {
			skipping = true
			continue
		}
		if skipping {
			continue
		}

		card, ok := parseCardLine(line)
		if !ok {
			return nil, importerr.Parsing("line %d: cannot parse card line %q", lineNo, line)
		}
		cur.Cards = append(cur.Cards, card)
	}
	if err := scanner.Err(); err != nil {
		return nil, importerr.Parsing("reading input: %v", err)
	}
	flush()

	return validate(payload, opts)
}

// headerValue matches lines like "Deck: My Deck" or "deck My Deck", returning
// the value after the keyword.
func headerValue(line, keyword string) (string, bool) {
	lower := strings.ToLower(line)
	if !strings.HasPrefix(lower, keyword) {
		return "", false
	}
	rest := strings.TrimSpace(line[len(keyword):])
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	return strings.TrimSpace(rest[1:]), true
}

// parseCardLine parses a single card line. Bare names get quantity 1.
func parseCardLine(line string) (Card, bool) {
	if m := cardLineRe.FindStringSubmatch(line); m != nil {
		qty, err := strconv.Atoi(m[1])
		if err != nil || qty <= 0 {
			return Card{}, false
		}
		return Card{RawName: m[2], Quantity: qty, SetCode: strings.ToLower(m[3])}, true
	}
	// Lines that start with a digit but didn't match are malformed
	// quantities, not bare names.
	if line != "" && line[0] >= '0' && line[0] <= '9' {
		return Card{}, false
	}
	return Card{RawName: line, Quantity: 1}, true
}
