package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/tasks"
	"golang.org/x/oauth2"
)

// SubscriptionSource lists feed URLs a user subscribes to elsewhere.
type SubscriptionSource interface {
	Subscriptions(ctx context.Context) ([]string, error)
}

// NextcloudOAuthConfig returns the OAuth2 client settings for a Nextcloud server.
func NextcloudOAuthConfig(cfg shared.NextcloudConfig) *oauth2.Config {
	base := strings.TrimRight(cfg.URL, "/")
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/index.php/apps/oauth2/authorize",
			TokenURL: base + "/index.php/apps/oauth2/api/v1/token",
		},
	}
}

// LoadToken reads an OAuth2 token saved by [SaveToken].
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", shared.ErrNoAccessToken, path)
		}
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

// SaveToken writes token to path, readable only by the owner.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := shared.MarshalJSON(token, true)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// NextcloudClient reads subscriptions from the Nextcloud gPodder sync app.
type NextcloudClient struct {
	baseURL string
	client  *http.Client
}

// NewNextcloudClient creates a client that authenticates with token, refreshing it through conf when it expires.
func NewNextcloudClient(ctx context.Context, baseURL string, conf *oauth2.Config, token *oauth2.Token) *NextcloudClient {
	return &NextcloudClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  conf.Client(ctx, token),
	}
}

type subscriptionChanges struct {
	Add       []string `json:"add"`
	Remove    []string `json:"remove"`
	Timestamp int64    `json:"timestamp"`
}

// Subscriptions implements [SubscriptionSource].
func (n *NextcloudClient) Subscriptions(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/index.php/apps/gpoddersync/subscriptions?since=0", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: nextcloud rejected the token", shared.ErrAuthFailed)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var changes subscriptionChanges
	if err := json.Unmarshal(body, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions: %w", err)
	}

	removed := make(map[string]bool, len(changes.Remove))
	for _, url := range changes.Remove {
		removed[url] = true
	}
	urls := make([]string, 0, len(changes.Add))
	for _, url := range changes.Add {
		if !removed[url] {
			urls = append(urls, url)
		}
	}
	return urls, nil
}

// Sync subscribes userID to every feed the Nextcloud account follows.
func (f *Factory) Sync(userID int64) tasks.Work {
	return func(ctx context.Context, r *tasks.Reporter) error {
		r.Report(5, "fetching nextcloud subscriptions")
		urls, err := f.Nextcloud.Subscriptions(ctx)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			r.Report(95, "nothing to sync")
			return nil
		}

		feeds := make([]FeedRef, len(urls))
		for i, url := range urls {
			feeds[i] = FeedRef{URL: url}
		}

		results, err := f.subscribeAll(ctx, r, userID, feeds, "syncing")
		if err != nil {
			return err
		}
		added, failed := results.counts()
		r.Logger().Info("nextcloud synced", "feeds", len(feeds), "added", added, "failed", failed)
		r.Reportf(95, "synced %d feeds, %d new, %d failed", len(feeds), added, failed)
		return nil
	}
}
