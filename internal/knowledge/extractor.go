package knowledge

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	minReadableChars = 50
	minBodyChars     = 100
	untitled         = "Untitled"
)

var (
	boilerplateSelector = strings.Join([]string{
		"script", "style", "nav", "footer", "header",
		".nav", ".navbar", ".footer", ".sidebar", ".menu",
		".cookie-banner", ".popup", ".modal", ".ad",
		"[role='navigation']", "[role='banner']", "[role='contentinfo']",
	}, ", ")

	contentSelectors = []string{
		"main", "article", "[role='main']",
		".content", ".page-content", ".main-content",
		"#content", "#main", "#main-content",
	}

	whitespaceRun  = regexp.MustCompile(`[\s\v\p{Z}\x{FEFF}]+`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

type Extracted struct {
	Title   string
	Content string
}

// Extract pulls the readable title and text out of an HTML page. Readability
// runs first; a selector-based walk over the DOM is the fallback.
func Extract(data []byte, pageURL string) (result Extracted, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			result, ok = Extracted{}, false
		}
	}()

	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return Extracted{}, false
	}
	doc := goquery.NewDocumentFromNode(root)
	fallbackTitle := titleChain(doc)

	if parsedURL, err := url.Parse(pageURL); err == nil {
		article, err := readability.FromReader(bytes.NewReader(data), parsedURL)
		if err == nil && article.Node != nil {
			var buf bytes.Buffer
			if article.RenderText(&buf) == nil {
				text := CleanText(buf.String())
				if utf8.RuneCountInString(text) > minReadableChars {
					title := strings.TrimSpace(article.Title())
					if title == "" {
						title = fallbackTitle
					}
					return Extracted{Title: title, Content: text}, true
				}
			}
		}
	}

	text, found := selectorText(doc)
	if !found {
		return Extracted{}, false
	}
	return Extracted{Title: fallbackTitle, Content: text}, true
}

func selectorText(doc *goquery.Document) (string, bool) {
	doc.Find(boilerplateSelector).Remove()

	for _, sel := range contentSelectors {
		match := doc.Find(sel).First()
		if match.Length() == 0 {
			continue
		}
		text := CleanText(match.Text())
		if utf8.RuneCountInString(text) > minReadableChars {
			return text, true
		}
	}

	text := CleanText(doc.Find("body").Text())
	if utf8.RuneCountInString(text) > minBodyChars {
		return text, true
	}
	return "", false
}

// titleChain: og:title, then <title>, then the first <h1>.
func titleChain(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if og = strings.TrimSpace(og); og != "" {
			return og
		}
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return untitled
}

// CleanText collapses whitespace inside lines and drops blank lines.
func CleanText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(excessNewlines.ReplaceAllString(strings.Join(kept, "\n"), "\n\n"))
}
