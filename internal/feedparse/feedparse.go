// Package feedparse converts raw feed markup (RSS 2.0, Atom, RDF) into a
// normalized entry list. Parsing is a pure function of the input bytes:
// malformed markup yields an empty entry list, never an error, and missing
// or unparsable dates yield nil rather than a best-effort guess.
package feedparse

import (
	"bytes"
	"encoding/xml"
	"strings"
	"time"
)

// Format identifies the recognized feed dialect.
type Format string

const (
	FormatRSS2    Format = "rss2"
	FormatAtom    Format = "atom"
	FormatRDF     Format = "rdf"
	FormatUnknown Format = "unknown"
)

// Options controls per-entry field precedence.
type Options struct {
	// PreferContent selects content:encoded (RSS) or <content> (Atom)
	// over the summary/description field when both are present.
	PreferContent bool
}

// Entry is one normalized feed item.
type Entry struct {
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Link       string     `json:"link"`
	Author     string     `json:"author,omitempty"`
	ExternalID string     `json:"external_id"`
	Published  *time.Time `json:"published,omitempty"`
}

// Feed is the normalized parse result.
type Feed struct {
	Format  Format  `json:"format"`
	Title   string  `json:"title,omitempty"`
	Entries []Entry `json:"entries"`
}

// Parse classifies markup by its top-level container and extracts entries.
// Unrecognized or malformed input produces Format "unknown" / an empty
// entry list.
func Parse(data []byte, opts Options) Feed {
	switch rootName(data) {
	case "rss":
		return parseRSS2(data, opts)
	case "feed":
		return parseAtom(data, opts)
	case "RDF":
		return parseRDF(data, opts)
	default:
		return Feed{Format: FormatUnknown, Entries: []Entry{}}
	}
}

// rootName returns the local name of the first start element, or "" when
// the input is not well-formed enough to carry one.
func rootName(data []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local
		}
	}
}

type rssDocument struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title          string `xml:"title"`
	Link           string `xml:"link"`
	GUID           string `xml:"guid"`
	Description    string `xml:"description"`
	ContentEncoded string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	Creator        string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Author         string `xml:"author"`
	PubDate        string `xml:"pubDate"`
	DCDate         string `xml:"http://purl.org/dc/elements/1.1/ date"`
}

func parseRSS2(data []byte, opts Options) Feed {
	var doc rssDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Feed{Format: FormatRSS2, Entries: []Entry{}}
	}

	feed := Feed{
		Format:  FormatRSS2,
		Title:   strings.TrimSpace(doc.Channel.Title),
		Entries: make([]Entry, 0, len(doc.Channel.Items)),
	}
	for _, item := range doc.Channel.Items {
		feed.Entries = append(feed.Entries, Entry{
			Title:      strings.TrimSpace(item.Title),
			Body:       firstNonEmpty(bodyOrder(opts, item.ContentEncoded, item.Description)...),
			Link:       strings.TrimSpace(item.Link),
			Author:     firstNonEmpty(item.Creator, item.Author),
			ExternalID: firstNonEmpty(strings.TrimSpace(item.GUID), strings.TrimSpace(item.Link)),
			Published:  ParseDate(firstNonEmpty(item.PubDate, item.DCDate)),
		})
	}
	return feed
}

// rdfDocument covers RSS 1.0: items are siblings of the channel, not
// nested inside it.
type rdfDocument struct {
	Channel struct {
		Title string `xml:"title"`
	} `xml:"channel"`
	Items []rdfItem `xml:"item"`
}

type rdfItem struct {
	About          string `xml:"about,attr"`
	Title          string `xml:"title"`
	Link           string `xml:"link"`
	Description    string `xml:"description"`
	ContentEncoded string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	Creator        string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	DCDate         string `xml:"http://purl.org/dc/elements/1.1/ date"`
}

func parseRDF(data []byte, opts Options) Feed {
	var doc rdfDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Feed{Format: FormatRDF, Entries: []Entry{}}
	}

	feed := Feed{
		Format:  FormatRDF,
		Title:   strings.TrimSpace(doc.Channel.Title),
		Entries: make([]Entry, 0, len(doc.Items)),
	}
	for _, item := range doc.Items {
		feed.Entries = append(feed.Entries, Entry{
			Title:      strings.TrimSpace(item.Title),
			Body:       firstNonEmpty(bodyOrder(opts, item.ContentEncoded, item.Description)...),
			Link:       strings.TrimSpace(item.Link),
			Author:     strings.TrimSpace(item.Creator),
			ExternalID: firstNonEmpty(strings.TrimSpace(item.About), strings.TrimSpace(item.Link)),
			Published:  ParseDate(item.DCDate),
		})
	}
	return feed
}

type atomDocument struct {
	Title   atomText    `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     atomText   `xml:"title"`
	Links     []atomLink `xml:"link"`
	ID        string     `xml:"id"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Content atomText `xml:"content"`
	Summary atomText `xml:"summary"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// atomText descends into either a plain string or a tagged-content
// wrapper (type="xhtml" nests markup under the element).
type atomText struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
	Inner string `xml:",innerxml"`
}

func (t atomText) text() string {
	if v := strings.TrimSpace(t.Value); v != "" {
		return v
	}
	// Tagged wrapper: resolve text nested under child elements.
	return strings.TrimSpace(StripHTML(t.Inner))
}

func parseAtom(data []byte, opts Options) Feed {
	var doc atomDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Feed{Format: FormatAtom, Entries: []Entry{}}
	}

	feed := Feed{
		Format:  FormatAtom,
		Title:   doc.Title.text(),
		Entries: make([]Entry, 0, len(doc.Entries)),
	}
	for _, entry := range doc.Entries {
		feed.Entries = append(feed.Entries, Entry{
			Title:      entry.Title.text(),
			Body:       firstNonEmpty(bodyOrder(opts, entry.Content.text(), entry.Summary.text())...),
			Link:       pickAtomLink(entry.Links),
			Author:     strings.TrimSpace(entry.Author.Name),
			ExternalID: firstNonEmpty(strings.TrimSpace(entry.ID), pickAtomLink(entry.Links)),
			Published:  ParseDate(firstNonEmpty(entry.Published, entry.Updated)),
		})
	}
	return feed
}

// pickAtomLink prefers rel=alternate, then an unqualified link, then the
// first link present.
func pickAtomLink(links []atomLink) string {
	var unqualified, first string
	for _, l := range links {
		href := strings.TrimSpace(l.Href)
		if href == "" {
			continue
		}
		switch l.Rel {
		case "alternate":
			return href
		case "":
			if unqualified == "" {
				unqualified = href
			}
		}
		if first == "" {
			first = href
		}
	}
	if unqualified != "" {
		return unqualified
	}
	return first
}

// bodyOrder returns the content/summary candidates in configured order.
func bodyOrder(opts Options, content, summary string) []string {
	if opts.PreferContent {
		return []string{content, summary}
	}
	return []string{summary, content}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// dateFormats lists accepted timestamp layouts, most specific first.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z07:00",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses feed timestamps. Unparsable or empty input yields nil:
// a fabricated date is worse than no date for downstream ranking.
func ParseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
