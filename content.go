package main

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// altTextLimit is the hard cap on alt text length in runes.
const altTextLimit = 125

// analyzeContent derives word count, headings and links from generated HTML.
func analyzeContent(html string, item WorkItem) (GeneratedContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return GeneratedContent{}, fmt.Errorf("parsing generated HTML: %w", err)
	}

	content := GeneratedContent{
		HTML:      html,
		WordCount: countWords(doc),
	}

	doc.Find("h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			content.Headings = append(content.Headings, text)
		}
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		switch {
		case href == "":
		case isInternalLink(href, item.InternalURLs):
			content.InternalLinks = append(content.InternalLinks, href)
		case content.OutboundLink == "" && isOutboundLink(href, item.SiteDomain):
			content.OutboundLink = href
		}
	})

	return content, nil
}

// countWords counts words across all text nodes. Nodes are joined with a
// space so text in adjacent elements never merges into one word.
func countWords(doc *goquery.Document) int {
	var text []string
	doc.Find("*").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#text" {
			text = append(text, s.Nodes[0].Data)
		}
	})
	return len(wordPattern.FindAllString(strings.Join(text, " "), -1))
}

func isInternalLink(href string, candidates []string) bool {
	for _, candidate := range candidates {
		if candidate != "" && strings.Contains(href, candidate) {
			return true
		}
	}
	return false
}

// isOutboundLink reports whether href points off-site. Relative links and
// links containing the site domain are on-site.
func isOutboundLink(href, siteDomain string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return false
	}
	return siteDomain == "" || !strings.Contains(strings.ToLower(href), strings.ToLower(siteDomain))
}

// cleanAltText trims whitespace and surrounding quotes and caps the length in
// runes. The cap never exceeds altTextLimit.
func cleanAltText(text string, max int) string {
	if max <= 0 || max > altTextLimit {
		max = altTextLimit
	}
	text = strings.Trim(strings.TrimSpace(text), `"'`)
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max])
	}
	return text
}

// markdownPreview renders the article HTML as markdown for the console.
func markdownPreview(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("converting HTML to markdown: %w", err)
	}
	return markdown, nil
}
