package models

import (
	"fmt"
	"net/url"
	"time"
)

// Podcast is a feed a user is subscribed to.
type Podcast struct {
	ID              int64      `json:"id" db:"id"`
	UserID          int64      `json:"user_id" db:"user_id"`
	Title           string     `json:"title" db:"title"`
	FeedURL         string     `json:"feed_url" db:"feed_url"`
	Description     string     `json:"description" db:"description"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty" db:"last_refreshed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Validate checks the owner and that the feed URL is absolute http(s).
func (p *Podcast) Validate() error {
	if p.UserID <= 0 {
		return fmt.Errorf("podcast must belong to a user")
	}
	u, err := url.Parse(p.FeedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid feed url %q", p.FeedURL)
	}
	return nil
}

// Episode is an item from a podcast feed, unique per podcast by GUID.
type Episode struct {
	ID          int64      `json:"id" db:"id"`
	PodcastID   int64      `json:"podcast_id" db:"podcast_id"`
	GUID        string     `json:"guid" db:"guid"`
	Title       string     `json:"title" db:"title"`
	AudioURL    string     `json:"audio_url" db:"audio_url"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
