package parse

import (
	"bufio"
	"bytes"
	"strings"
)

func init() {
	Register(SourceTappedOut, &TappedOutParser{})
	Register(SourceEDHREC, &EDHRECParser{})
	Register(SourceMTGGoldfish, &MTGGoldfishParser{})
}

// The TappedOut, EDHREC, and MTGGoldfish exports are all plain-text
// decklists with minor dialect differences; each is normalized to the text
// grammar and delegated to TextParser.

// TappedOutParser handles TappedOut text exports: `1x Card Name` lines with
// `*F*`/`*ALT*` foil and alter markers appended.
type TappedOutParser struct{}

func (p *TappedOutParser) Parse(raw []byte, opts Options) (*Payload, error) {
	var buf bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		// Strip trailing markers like *F* (foil) and *ALT* (altered art).
		if i := strings.Index(line, "*"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return (&TextParser{}).Parse(buf.Bytes(), opts)
}

// EDHRECParser handles EDHREC "export decklist" output: the first card line
// is the commander, the rest is the ninety-nine.
type EDHRECParser struct{}

func (p *EDHRECParser) Parse(raw []byte, opts Options) (*Payload, error) {
	payload, err := (&TextParser{}).Parse(raw, opts)
	if err != nil {
		return nil, err
	}
	for i := range payload.Decks {
		if payload.Decks[i].Commander == "" && len(payload.Decks[i].Cards) > 0 {
			payload.Decks[i].Commander = payload.Decks[i].Cards[0].RawName
		}
	}
	return payload, nil
}

// MTGGoldfishParser handles MTGGoldfish text downloads: `4 Card Name` lines
// with a blank-line-separated sideboard section (no header). The mainboard
// is the first section; later sections are dropped.
type MTGGoldfishParser struct{}

func (p *MTGGoldfishParser) Parse(raw []byte, opts Options) (*Payload, error) {
	// Keep only the first section; MTGGoldfish separates the sideboard with
	// a blank line rather than a header.
	sections := bytes.SplitN(bytes.TrimSpace(raw), []byte("\n\n"), 2)
	return (&TextParser{}).Parse(sections[0], opts)
}
