package pii

import (
	"fmt"
	"regexp"
	"sort"
)

// Category identifies a class of personally identifiable information.
type Category string

const (
	CategoryPhone   Category = "phone"
	CategoryEmail   Category = "email"
	CategoryAddress Category = "address"
	CategoryName    Category = "name"
	CategoryTaxID   Category = "tax_id"
	CategoryCard    Category = "card"
)

// Match is a single detected PII span. Start and End are byte offsets into
// the original text, half-open.
type Match struct {
	Category Category `json:"category"`
	Original string   `json:"original"`
	Token    string   `json:"token"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// ScrubResult is the output of a scrub pass.
type ScrubResult struct {
	Scrubbed string  `json:"scrubbed"`
	Matches  []Match `json:"matches"`
	HasPII   bool    `json:"has_pii"`
}

// Detector finds spans of one category in a text.
type Detector interface {
	Category() Category
	Token() string
	FindAll(text string) [][2]int
}

type patternDetector struct {
	category Category
	token    string
	re       *regexp.Regexp
	// exclude marks spans no match of this detector may overlap
	exclude *regexp.Regexp
}

func (d *patternDetector) Category() Category { return d.category }
func (d *patternDetector) Token() string      { return d.token }

func (d *patternDetector) FindAll(text string) [][2]int {
	var excluded [][]int
	if d.exclude != nil {
		excluded = d.exclude.FindAllStringIndex(text, -1)
	}
	if len(excluded) == 0 {
		locs := d.re.FindAllStringIndex(text, -1)
		spans := make([][2]int, 0, len(locs))
		for _, loc := range locs {
			if loc[1] > loc[0] {
				spans = append(spans, [2]int{loc[0], loc[1]})
			}
		}
		return spans
	}

	spans := make([][2]int, 0)
	for off := 0; off < len(text); {
		loc := d.re.FindStringIndex(text[off:])
		if loc == nil {
			break
		}
		start, end := off+loc[0], off+loc[1]
		if end > start && !overlapsAny(start, end, excluded) {
			spans = append(spans, [2]int{start, end})
			off = end
			continue
		}
		off = start + 1
	}
	return spans
}

func overlapsAny(start, end int, spans [][]int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// uuidPattern matches canonical hyphenated UUIDs. Their digit groups can look
// like phone numbers.
var uuidPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)

// NewPatternDetector compiles a regular expression detector for a category.
func NewPatternDetector(category Category, token, pattern string) (Detector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s pattern: %w", category, err)
	}
	return &patternDetector{category: category, token: token, re: re}, nil
}

func mustPattern(category Category, token, pattern string) Detector {
	d, err := NewPatternDetector(category, token, pattern)
	if err != nil {
		panic(err)
	}
	return d
}

func excluding(d Detector, exclude *regexp.Regexp) Detector {
	d.(*patternDetector).exclude = exclude
	return d
}

// Registration order breaks ties between matches that start at the same
// offset unless WithCategories supplies its own order.
var defaultDetectors = []Detector{
	// Australian mobile/landline, optional +61, loose separators
	excluding(mustPattern(CategoryPhone, "[PHONE]", `(?:\+?61|0)[0-9\s\-().]{8,14}[0-9]`), uuidPattern),
	mustPattern(CategoryEmail, "[EMAIL]", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	mustPattern(CategoryAddress, "[ADDRESS]",
		`(?i)\b\d+\s+[A-Z][a-zA-Z\s]+(?:Street|St|Road|Rd|Avenue|Ave|Drive|Dr|Court|Ct|Way|Lane|Ln|Place|Pl|Boulevard|Blvd)\b`),
	mustPattern(CategoryName, "[NAME]", `\b(?:Mr|Mrs|Ms|Dr|Prof)\.\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,2}\b`),
	// ABN, ACN, TFN
	mustPattern(CategoryTaxID, "[TAX-ID]", `(?i)\b(?:ABN|ACN|TFN)[:\s#]*\d[\d\s]{8,12}\d\b`),
	mustPattern(CategoryCard, "[CARD]", `\b(?:\d{4}[\s-]){3}\d{4}\b`),
}

// DefaultDetectors returns a copy of the built-in detector registry.
func DefaultDetectors() []Detector {
	out := make([]Detector, len(defaultDetectors))
	copy(out, defaultDetectors)
	return out
}

// AllCategories lists the built-in categories in registration order.
func AllCategories() []Category {
	cats := make([]Category, 0, len(defaultDetectors))
	for _, d := range defaultDetectors {
		cats = append(cats, d.Category())
	}
	return cats
}

type scrubOptions struct {
	// categories is nil when every detector runs
	categories []Category
}

// Option configures a single scrub call.
type Option func(*scrubOptions)

// WithCategories restricts detection to the given categories. Their order
// replaces registration order when breaking same-offset ties. Passing no
// categories disables every detector.
func WithCategories(categories ...Category) Option {
	return func(o *scrubOptions) {
		o.categories = make([]Category, 0, len(categories))
		seen := make(map[Category]bool, len(categories))
		for _, c := range categories {
			if !seen[c] {
				seen[c] = true
				o.categories = append(o.categories, c)
			}
		}
	}
}

// enabled returns the detectors to run, in tie-break order.
func (s *Scrubber) enabled(o scrubOptions) []Detector {
	if o.categories == nil {
		return s.detectors
	}
	out := make([]Detector, 0, len(s.detectors))
	for _, c := range o.categories {
		for _, d := range s.detectors {
			if d.Category() == c {
				out = append(out, d)
			}
		}
	}
	return out
}

// Scrubber replaces PII spans with category tokens.
type Scrubber struct {
	detectors []Detector
}

// NewScrubber builds a scrubber over the given detectors, or the built-in
// registry when none are given.
func NewScrubber(detectors ...Detector) *Scrubber {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Scrubber{detectors: detectors}
}

var defaultScrubber = NewScrubber()

// Scrub redacts text with the built-in detectors.
func Scrub(text string, opts ...Option) ScrubResult {
	return defaultScrubber.Scrub(text, opts...)
}

// HasPII reports whether Scrub would redact anything.
func HasPII(text string, opts ...Option) bool {
	return defaultScrubber.Scrub(text, opts...).HasPII
}

// Scrub runs every enabled detector over the original text, keeps the
// leftmost non-overlapping matches (first match wins) and substitutes their
// tokens.
func (s *Scrubber) Scrub(text string, opts ...Option) ScrubResult {
	var o scrubOptions
	for _, opt := range opts {
		opt(&o)
	}

	if text == "" {
		return ScrubResult{Scrubbed: "", Matches: []Match{}, HasPII: false}
	}

	var candidates []Match
	for _, d := range s.enabled(o) {
		for _, span := range d.FindAll(text) {
			candidates = append(candidates, Match{
				Category: d.Category(),
				Original: text[span[0]:span[1]],
				Token:    d.Token(),
				Start:    span[0],
				End:      span[1],
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Start < candidates[j].Start
	})

	kept := make([]Match, 0, len(candidates))
	lastEnd := 0
	for _, m := range candidates {
		if m.Start >= lastEnd {
			kept = append(kept, m)
			lastEnd = m.End
		}
	}

	// Reverse order keeps earlier offsets valid.
	scrubbed := text
	for i := len(kept) - 1; i >= 0; i-- {
		m := kept[i]
		scrubbed = scrubbed[:m.Start] + m.Token + scrubbed[m.End:]
	}

	return ScrubResult{
		Scrubbed: scrubbed,
		Matches:  kept,
		HasPII:   len(kept) > 0,
	}
}

// Categories returns the distinct categories of a result in first-seen order.
func (r ScrubResult) Categories() []Category {
	seen := make(map[Category]bool)
	var cats []Category
	for _, m := range r.Matches {
		if !seen[m.Category] {
			seen[m.Category] = true
			cats = append(cats, m.Category)
		}
	}
	return cats
}
