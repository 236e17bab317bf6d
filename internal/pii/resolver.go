package pii

import "strings"

// ResolutionEntry maps one token occurrence in scrubbed text back to the
// value it replaced.
type ResolutionEntry struct {
	Token      string   `json:"token"`
	Occurrence int      `json:"occurrence"`
	Original   string   `json:"original"`
	Category   Category `json:"category"`
	// Offset of the token in the scrubbed text. Used as a hint only.
	ScrubbedStart int `json:"scrubbed_start"`
}

// ResolutionMap is the ordered list of entries for one scrub result.
type ResolutionMap struct {
	Entries []ResolutionEntry `json:"entries"`
}

// Len returns the number of entries.
func (m ResolutionMap) Len() int { return len(m.Entries) }

// BuildResolutionMap records every match of a scrub result in ascending
// position with a per-token occurrence counter.
func BuildResolutionMap(result ScrubResult) ResolutionMap {
	counts := make(map[string]int)
	entries := make([]ResolutionEntry, 0, len(result.Matches))
	shift := 0
	for _, m := range result.Matches {
		entries = append(entries, ResolutionEntry{
			Token:         m.Token,
			Occurrence:    counts[m.Token],
			Original:      m.Original,
			Category:      m.Category,
			ScrubbedStart: m.Start + shift,
		})
		counts[m.Token]++
		shift += len(m.Token) - (m.End - m.Start)
	}
	return ResolutionMap{Entries: entries}
}

// ResolveTokens splices original values back into scrubbed text. Entries
// are consumed left to right; an entry whose token cannot be found after the
// previous splice is skipped.
func ResolveTokens(scrubbed string, m ResolutionMap) string {
	result := scrubbed
	cursor := 0
	// shift tracks how far splices so far have moved the scrubbed offsets.
	shift := 0
	for _, e := range m.Entries {
		if e.Token == "" {
			continue
		}

		pos := -1
		hint := e.ScrubbedStart + shift
		if hint >= cursor && hint+len(e.Token) <= len(result) && result[hint:hint+len(e.Token)] == e.Token {
			pos = hint
		} else if idx := strings.Index(result[cursor:], e.Token); idx >= 0 {
			pos = cursor + idx
		}
		if pos < 0 {
			continue
		}

		result = result[:pos] + e.Original + result[pos+len(e.Token):]
		cursor = pos + len(e.Original)
		shift = pos + len(e.Original) - (e.ScrubbedStart + len(e.Token))
	}
	return result
}
