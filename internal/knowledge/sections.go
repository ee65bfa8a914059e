package knowledge

import (
	"regexp"
	"sort"
	"strings"
)

const (
	generalHeading = "General"
	maxResults     = 3
	minTermLength  = 3
)

var headingLine = regexp.MustCompile(`^#{1,3}\s+(.+)`)

// Provenance sources.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Provenance records where a section came from.
type Provenance struct {
	Source string `json:"source"` // SourceRemote or SourceLocal
	Ref    string `json:"ref"`    // file path or article slug
}

type Section struct {
	Heading    string
	Content    string
	Provenance Provenance
}

type ScoredSection struct {
	Section
	Score int
}

// ParseSections splits a markdown document on level 1-3 headings. Text
// before the first heading is filed under "General".
func ParseSections(doc string, provenance Provenance) []Section {
	return splitSections(doc, generalHeading, func(h string) string { return h }, provenance)
}

func splitSections(doc, preface string, label func(string) string, provenance Provenance) []Section {
	var sections []Section
	heading := preface
	var body []string

	flush := func() {
		if content := strings.TrimSpace(strings.Join(body, "\n")); content != "" {
			sections = append(sections, Section{Heading: heading, Content: content, Provenance: provenance})
		}
		body = body[:0]
	}

	for _, line := range strings.Split(doc, "\n") {
		if m := headingLine.FindStringSubmatch(line); m != nil {
			flush()
			heading = label(strings.TrimRight(m[1], "\r"))
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}

func queryTerms(query string) []string {
	var terms []string
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(term)) >= minTermLength {
			terms = append(terms, term)
		}
	}
	return terms
}

// ScoreSection adds 2 per term found in the heading plus one per occurrence
// anywhere in heading and content.
func ScoreSection(section Section, query string) int {
	return scoreTerms(section, queryTerms(query))
}

func scoreTerms(section Section, terms []string) int {
	heading := strings.ToLower(section.Heading)
	text := heading + " " + strings.ToLower(section.Content)
	score := 0
	for _, term := range terms {
		if strings.Contains(heading, term) {
			score += 2
		}
		score += strings.Count(text, term)
	}
	return score
}

// Rank returns up to three sections with a positive score, best first.
// Ties keep document order.
func Rank(sections []Section, query string) []ScoredSection {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil
	}
	var scored []ScoredSection
	for _, s := range sections {
		if score := scoreTerms(s, terms); score > 0 {
			scored = append(scored, ScoredSection{Section: s, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored
}
