package knowledge

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"gudagent/internal/guddesk"
)

const (
	maxSectionChars  = 2000
	fingerprintChars = 200
	emptyKnowledge   = "# Knowledge Base\n\nNo content was found during crawling.\n"
)

var homeSuffix = regexp.MustCompile(`(?i)\s*[|\-–—]\s*Home$`)

// GenerateMarkdown renders crawled pages as a single knowledge base document,
// shallow paths first, skipping pages whose opening text repeats an earlier one.
func GenerateMarkdown(pages []Page, sourceURL string, now time.Time) string {
	if len(pages) == 0 {
		return emptyKnowledge
	}

	sorted := make([]Page, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return pathDepth(sorted[i].URL) < pathDepth(sorted[j].URL)
	})

	lines := []string{
		"# Knowledge Base",
		"",
		fmt.Sprintf("> Auto-generated from %s on %s", sourceURL, now.UTC().Format("2006-01-02")),
		fmt.Sprintf("> %d pages crawled", len(pages)),
		"",
	}

	seen := make(map[string]struct{}, len(sorted))
	for _, page := range sorted {
		fp := fingerprint(page.Content)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}

		lines = append(lines,
			"## "+CleanTitle(page.Title, sourceURL),
			"",
			"<!-- Source: "+page.URL+" -->",
			"",
			TruncateContent(page.Content, maxSectionChars),
			"",
			"---",
			"",
		)
	}
	return strings.Join(lines, "\n")
}

func pathDepth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	depth := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

func fingerprint(content string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(truncateRunes(content, fingerprintChars)), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// TruncateContent cuts content to maxChars, preferring a sentence or line
// break past the halfway mark.
func TruncateContent(content string, maxChars int) string {
	if utf8.RuneCountInString(content) <= maxChars {
		return content
	}
	prefix := truncateRunes(content, maxChars)
	breakAt := max(strings.LastIndex(prefix, ". "), strings.LastIndex(prefix, "\n"))
	if breakAt >= 0 && float64(utf8.RuneCountInString(prefix[:breakAt])) > float64(maxChars)*0.5 {
		return strings.TrimSpace(prefix[:breakAt+1])
	}
	return strings.TrimSpace(prefix) + "..."
}

// CleanTitle drops a trailing "| Brand" style suffix derived from the site's
// host, and a trailing "- Home".
func CleanTitle(title, sourceURL string) string {
	cleaned := title
	if u, err := url.Parse(sourceURL); err == nil && u.Hostname() != "" {
		host := strings.Replace(u.Hostname(), "www.", "", 1)
		domain := strings.Split(host, ".")[0]
		brandSuffix := regexp.MustCompile(`(?i)\s*[|\-–—]\s*` + regexp.QuoteMeta(domain) + `.*$`)
		cleaned = brandSuffix.ReplaceAllString(cleaned, "")
		cleaned = homeSuffix.ReplaceAllString(cleaned, "")
	}
	if cleaned = strings.TrimSpace(cleaned); cleaned == "" {
		return untitled
	}
	return cleaned
}

// SectionsFromArticles turns helpdesk articles into searchable sections,
// one per level 1-3 heading, labeled "<article> > <heading>".
func SectionsFromArticles(articles []guddesk.Article) []Section {
	var sections []Section
	for _, a := range articles {
		prov := Provenance{Source: SourceRemote, Ref: a.Slug}
		title := strings.TrimSpace(a.Title)
		if title == "" {
			title = untitled
		}

		body := strings.TrimSpace(a.Body)
		if body == "" {
			if excerpt := strings.TrimSpace(a.Excerpt); excerpt != "" {
				sections = append(sections, Section{Heading: title, Content: excerpt, Provenance: prov})
			}
			continue
		}
		if strings.HasPrefix(body, "<") {
			if md, err := htmltomarkdown.ConvertString(body); err == nil {
				body = md
			}
		}
		sections = append(sections, splitSections(body, title, func(h string) string {
			return title + " > " + strings.TrimSpace(h)
		}, prov)...)
	}
	return sections
}
