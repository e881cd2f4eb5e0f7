package workers

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
)

// OPML is a subscription list document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    struct {
		Title       string `xml:"title"`
		DateCreated string `xml:"dateCreated,omitempty"`
	} `xml:"head"`
	Body struct {
		Outlines []Outline `xml:"outline"`
	} `xml:"body"`
}

// Outline is an OPML entry. Podcast subscriptions carry an xmlUrl; folders nest further outlines.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline"`
}

// FeedRef is a feed found in an OPML document.
type FeedRef struct {
	URL   string
	Title string
}

// ParseOPML decodes an OPML document.
func ParseOPML(r io.Reader) (*OPML, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse opml: %w", err)
	}
	if len(doc.Feeds()) == 0 {
		return nil, fmt.Errorf("opml contains no feeds")
	}
	return &doc, nil
}

// Feeds flattens the outline tree into unique feed references in document order.
func (o *OPML) Feeds() []FeedRef {
	seen := make(map[string]bool)
	var feeds []FeedRef

	var walk func([]Outline)
	walk = func(outlines []Outline) {
		for _, ol := range outlines {
			if url := strings.TrimSpace(ol.XMLURL); url != "" && !seen[url] {
				seen[url] = true
				title := ol.Title
				if title == "" {
					title = ol.Text
				}
				feeds = append(feeds, FeedRef{URL: url, Title: title})
			}
			walk(ol.Outlines)
		}
	}
	walk(o.Body.Outlines)
	return feeds
}

// NewOPML builds a document listing podcasts.
func NewOPML(title string, podcasts []models.Podcast, now time.Time) *OPML {
	doc := &OPML{Version: "2.0"}
	doc.Head.Title = title
	doc.Head.DateCreated = now.UTC().Format(time.RFC1123Z)
	for _, p := range podcasts {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   p.Title,
			Title:  p.Title,
			Type:   "rss",
			XMLURL: p.FeedURL,
		})
	}
	return doc
}

// WriteTo encodes the document with an XML header.
func (o *OPML) WriteTo(w io.Writer) (int64, error) {
	data, err := xml.MarshalIndent(o, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode opml: %w", err)
	}
	n, err := io.WriteString(w, xml.Header)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(append(data, '\n'))
	return int64(n + m), err
}
