package browser

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/spyglass/api/schemas"
)

// maxDescriptorText bounds the visible text carried in an ElementDescriptor.
const maxDescriptorText = 200

// Describe parses a probed element's markup into an ElementDescriptor.
// baseURL resolves relative hrefs found in the markup when the page did not
// already report an absolute one. Returns nil for a nil probe.
func Describe(probed *ProbedElement, baseURL string) *schemas.ElementDescriptor {
	if probed == nil {
		return nil
	}

	desc := &schemas.ElementDescriptor{
		Title: strings.TrimSpace(probed.Title),
		Href:  probed.Href,
	}
	rect := probed.Rect
	desc.Rect = &rect

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(probed.OuterHTML))
	if err != nil {
		// Unparseable markup still identifies a hit; report it bare.
		desc.Tag = "unknown"
		return desc
	}

	// goquery wraps the fragment in html/body; the probed element is the
	// first child of body (or head for elements like title/meta).
	sel := doc.Find("body").Children().First()
	if sel.Length() == 0 {
		sel = doc.Find("head").Children().First()
	}
	if sel.Length() == 0 {
		desc.Tag = "unknown"
		return desc
	}

	desc.Tag = goquery.NodeName(sel)
	desc.Text = truncateText(sel.Text(), maxDescriptorText)

	if desc.Title == "" {
		if title, ok := sel.Attr("title"); ok {
			desc.Title = strings.TrimSpace(title)
		} else if label, ok := sel.Attr("aria-label"); ok {
			desc.Title = strings.TrimSpace(label)
		}
	}

	if desc.Href == "" {
		if href, ok := sel.Attr("href"); ok {
			desc.Href = resolveHref(baseURL, href)
		}
	}

	return desc
}

func truncateText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func resolveHref(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return href
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return href
	}
	return resolved.String()
}
