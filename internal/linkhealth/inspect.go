package linkhealth

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageFacts is what the scorer needs to know about a response body.
type PageFacts struct {
	Title       string
	Canonical   string
	NeedsJS     bool
	VisibleText int
}

// shellSelectors match the mount points client-rendered apps boot into.
var shellSelectors = []string{
	"#root",
	"#app",
	"#__next",
	"#__nuxt",
	"[data-reactroot]",
	"[ng-app]",
	"app-root",
}

// Inspect extracts the title and canonical link from body and decides whether
// the page is an empty client-rendering shell. Relative canonical hrefs are
// resolved against baseURL.
func Inspect(body []byte, baseURL string, minVisibleText int) PageFacts {
	if len(bytes.TrimSpace(body)) == 0 {
		return PageFacts{NeedsJS: true}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageFacts{NeedsJS: scriptDensityHigh(body)}
	}

	facts := PageFacts{
		Title:     collapseSpace(doc.Find("title").First().Text()),
		Canonical: canonicalHref(doc, baseURL),
	}

	content := doc.Find("body").Clone()
	content.Find("script,style,noscript,template").Remove()
	facts.VisibleText = len(collapseSpace(content.Text()))

	if facts.Title == "" && facts.VisibleText < minVisibleText {
		facts.NeedsJS = hasShellMount(doc) || scriptDensityHigh(body) || facts.VisibleText == 0
	}
	return facts
}

func canonicalHref(doc *goquery.Document, baseURL string) string {
	var canonical string
	doc.Find("link[rel][href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		rel, _ := sel.Attr("rel")
		if !relContains(rel, "canonical") {
			return true
		}
		href, _ := sel.Attr("href")
		canonical = resolveHref(baseURL, href)
		return canonical == ""
	})
	return canonical
}

func relContains(rel, want string) bool {
	for _, token := range strings.Fields(rel) {
		if strings.EqualFold(token, want) {
			return true
		}
	}
	return false
}

func resolveHref(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base, err := url.Parse(baseURL); err == nil && base.Host != "" {
		ref = base.ResolveReference(ref)
	}
	if (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
		return ""
	}
	return ref.String()
}

func hasShellMount(doc *goquery.Document) bool {
	for _, sel := range shellSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
