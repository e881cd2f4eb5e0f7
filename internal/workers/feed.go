package workers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/mmcdole/gofeed"
)

// Feed is the part of a parsed podcast feed the library stores.
type Feed struct {
	Title       string
	Description string
	Episodes    []models.Episode
}

// FeedFetcher downloads and parses a podcast feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*Feed, error)
}

// GofeedFetcher parses RSS and Atom feeds with gofeed.
type GofeedFetcher struct {
	parser  *gofeed.Parser
	timeout time.Duration
}

// NewGofeedFetcher creates a fetcher whose requests give up after timeout.
func NewGofeedFetcher(client *http.Client, timeout time.Duration) *GofeedFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	parser.UserAgent = "podtasks/1.0"
	return &GofeedFetcher{parser: parser, timeout: timeout}
}

// Fetch implements [FeedFetcher].
func (g *GofeedFetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parsed, err := g.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", url, err)
	}
	return convertFeed(parsed), nil
}

func convertFeed(parsed *gofeed.Feed) *Feed {
	feed := &Feed{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		Episodes:    make([]models.Episode, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			continue
		}

		ep := models.Episode{GUID: guid, Title: strings.TrimSpace(item.Title)}
		for _, enc := range item.Enclosures {
			if strings.HasPrefix(enc.Type, "audio/") || ep.AudioURL == "" {
				ep.AudioURL = enc.URL
			}
		}
		if item.PublishedParsed != nil {
			published := item.PublishedParsed.UTC()
			ep.PublishedAt = &published
		}
		feed.Episodes = append(feed.Episodes, ep)
	}
	return feed
}
