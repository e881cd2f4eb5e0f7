package workers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/podtasks/internal/lock"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/progress"
	"github.com/desertthunder/podtasks/internal/repositories"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/tasks"
	th "github.com/desertthunder/podtasks/internal/testing"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"
)

type fakeFeeds struct {
	feeds map[string]*Feed
}

func (f *fakeFeeds) Fetch(ctx context.Context, url string) (*Feed, error) {
	if feed, ok := f.feeds[url]; ok {
		return feed, nil
	}
	return nil, fmt.Errorf("feed returned 404")
}

type fakeSource struct {
	urls []string
	err  error
}

func (s *fakeSource) Subscriptions(ctx context.Context) ([]string, error) {
	return s.urls, s.err
}

type harness struct {
	db      *sqlx.DB
	factory *Factory
	spawner *tasks.Spawner
}

func newHarness(t *testing.T, feeds FeedFetcher, source SubscriptionSource) *harness {
	t.Helper()

	db := th.NewTestDB(t)
	s, _ := th.NewTestStore(t)
	logger := th.NewDiscardLogger()
	dir := t.TempDir()

	factory := NewFactory(Deps{
		Podcasts:  repositories.NewPodcastRepository(db),
		Episodes:  repositories.NewEpisodeRepository(db),
		Feeds:     feeds,
		Nextcloud: source,
		Storage: shared.StorageConfig{
			ExportDir:  filepath.Join(dir, "exports"),
			BackupDir:  filepath.Join(dir, "backups"),
			ImportRate: 1000,
		},
		Logger: logger,
	})
	spawner := tasks.NewSpawner(s, lock.New(s), progress.NewTracker(s, progress.Options{}), nil, tasks.Options{Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		spawner.Shutdown(ctx)
	})
	return &harness{db: db, factory: factory, spawner: spawner}
}

// run builds and submits req, then waits for the job to finish.
func (h *harness) run(t *testing.T, req JobRequest) *models.Job {
	t.Helper()
	ctx := context.Background()

	built, err := h.factory.Build(ctx, req)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	id, err := h.spawner.Submit(ctx, built)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.spawner.Status(ctx, id)
		if err == nil && job.State.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", id)
	return nil
}

func (h *harness) podcast(t *testing.T, userID int64, url string) *models.Podcast {
	t.Helper()
	p := &models.Podcast{UserID: userID, FeedURL: url, Title: "Old title"}
	if err := h.factory.Podcasts.Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create podcast: %v", err)
	}
	return p
}

const sampleOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>My feeds</title></head>
  <body>
    <outline text="One" type="rss" xmlUrl="https://example.com/one.xml"/>
    <outline text="Folder">
      <outline text="Two" title="Two Title" type="rss" xmlUrl="https://example.com/two.xml"/>
      <outline text="One again" type="rss" xmlUrl="https://example.com/one.xml"/>
    </outline>
    <outline text="Broken" type="rss" xmlUrl="https://example.com/broken.xml"/>
  </body>
</opml>`

func TestFactory_Build(t *testing.T) {
	h := newHarness(t, &fakeFeeds{}, nil)
	ctx := context.Background()
	p := h.podcast(t, 7, "https://example.com/feed.xml")
	os.MkdirAll(h.factory.Storage.BackupDir, 0700)
	os.WriteFile(filepath.Join(h.factory.Storage.BackupDir, "backup-1.json"), []byte("{}"), 0600)

	tests := []struct {
		name       string
		req        JobRequest
		wantErr    error
		wantTarget string
	}{
		{name: "unknown kind", req: JobRequest{Kind: "reindex", Owner: 7}, wantErr: shared.ErrInvalidKind},
		{name: "refresh", req: JobRequest{Kind: models.KindRefreshPodcast, Owner: 7, Target: fmt.Sprint(p.ID)}, wantTarget: fmt.Sprint(p.ID)},
		{name: "refresh bad target", req: JobRequest{Kind: models.KindRefreshPodcast, Owner: 7, Target: "abc"}, wantErr: shared.ErrInvalidInput},
		{name: "refresh unknown podcast", req: JobRequest{Kind: models.KindRefreshPodcast, Owner: 7, Target: "999"}, wantErr: shared.ErrNotFound},
		{name: "refresh other user's podcast", req: JobRequest{Kind: models.KindRefreshPodcast, Owner: 8, Target: fmt.Sprint(p.ID)}, wantErr: shared.ErrNotFound},
		{name: "import", req: JobRequest{Kind: models.KindImportOPML, Owner: 7, Payload: sampleOPML}, wantTarget: "7"},
		{name: "import bad opml", req: JobRequest{Kind: models.KindImportOPML, Owner: 7, Payload: "<nope"}, wantErr: shared.ErrInvalidInput},
		{name: "export", req: JobRequest{Kind: models.KindExportOPML, Owner: 7}, wantTarget: "7"},
		{name: "sync not configured", req: JobRequest{Kind: models.KindSyncNextcloud, Owner: 7}, wantErr: shared.ErrMissingConfig},
		{name: "backup needs admin", req: JobRequest{Kind: models.KindBackup, Owner: 7}, wantErr: shared.ErrForbidden},
		{name: "backup", req: JobRequest{Kind: models.KindBackup, Owner: 1, Admin: true}, wantTarget: ServerTarget},
		{name: "restore", req: JobRequest{Kind: models.KindRestore, Owner: 1, Admin: true, Target: "backup-1.json"}, wantTarget: ServerTarget},
		{name: "restore path escape", req: JobRequest{Kind: models.KindRestore, Owner: 1, Admin: true, Target: "../secret.json"}, wantErr: shared.ErrInvalidInput},
		{name: "restore missing file", req: JobRequest{Kind: models.KindRestore, Owner: 1, Admin: true, Target: "backup-2.json"}, wantErr: shared.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := h.factory.Build(ctx, tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("build failed: %v", err)
			}
			if req.Target != tt.wantTarget || req.Work == nil || req.Kind != tt.req.Kind {
				t.Errorf("unexpected request %+v", req)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	feeds := &fakeFeeds{feeds: map[string]*Feed{
		"https://example.com/feed.xml": {
			Title: "New title",
			Episodes: []models.Episode{
				{GUID: "e1", Title: "One", PublishedAt: &published},
				{GUID: "e2", Title: "Two"},
			},
		},
	}}

	t.Run("stores episodes", func(t *testing.T) {
		h := newHarness(t, feeds, nil)
		p := h.podcast(t, 7, "https://example.com/feed.xml")

		job := h.run(t, JobRequest{Kind: models.KindRefreshPodcast, Owner: 7, Target: fmt.Sprint(p.ID)})
		if job.State != models.StateSucceeded {
			t.Fatalf("expected succeeded, got %s (%s)", job.State, job.Error)
		}
		if job.Stage != "added 2 new episodes" {
			t.Errorf("unexpected stage %q", job.Stage)
		}

		n, _ := h.factory.Episodes.Count(context.Background(), p.ID)
		if n != 2 {
			t.Errorf("expected 2 episodes, got %d", n)
		}
		got, _ := h.factory.Podcasts.Get(context.Background(), p.ID)
		if got.Title != "New title" || got.LastRefreshedAt == nil {
			t.Errorf("expected refreshed podcast, got %+v", got)
		}

		again := h.run(t, JobRequest{Kind: models.KindRefreshPodcast, Owner: 7, Target: fmt.Sprint(p.ID)})
		if again.Stage != "added 0 new episodes" {
			t.Errorf("expected no new episodes on second refresh, got %q", again.Stage)
		}
	})

	t.Run("feed failure", func(t *testing.T) {
		h := newHarness(t, feeds, nil)
		p := h.podcast(t, 7, "https://example.com/gone.xml")

		job := h.run(t, JobRequest{Kind: models.KindRefreshPodcast, Owner: 7, Target: fmt.Sprint(p.ID)})
		if job.State != models.StateFailed || job.Error != "feed returned 404" {
			t.Errorf("expected failed with feed error, got %s %q", job.State, job.Error)
		}
	})
}

func TestImport(t *testing.T) {
	feeds := &fakeFeeds{feeds: map[string]*Feed{
		"https://example.com/one.xml": {Title: "One", Episodes: []models.Episode{{GUID: "a"}}},
		"https://example.com/two.xml": {Title: "Two", Episodes: []models.Episode{{GUID: "b"}, {GUID: "c"}}},
	}}

	t.Run("subscribes every feed", func(t *testing.T) {
		h := newHarness(t, feeds, nil)

		job := h.run(t, JobRequest{Kind: models.KindImportOPML, Owner: 7, Payload: sampleOPML})
		if job.State != models.StateSucceeded {
			t.Fatalf("expected succeeded, got %s (%s)", job.State, job.Error)
		}
		if job.Stage != "imported 2 of 3 feeds, 1 failed" {
			t.Errorf("unexpected stage %q", job.Stage)
		}

		podcasts, _ := h.factory.Podcasts.ListByUser(context.Background(), 7)
		if len(podcasts) != 3 {
			t.Fatalf("expected 3 subscriptions, got %d", len(podcasts))
		}
		for _, p := range podcasts {
			if p.FeedURL == "https://example.com/two.xml" {
				n, _ := h.factory.Episodes.Count(context.Background(), p.ID)
				if n != 2 || p.Title != "Two" {
					t.Errorf("expected two.xml loaded, got %d episodes and title %q", n, p.Title)
				}
			}
		}
	})

	t.Run("fails when nothing imports", func(t *testing.T) {
		h := newHarness(t, &fakeFeeds{}, nil)
		doc := `<opml version="2.0"><body><outline text="x" xmlUrl="https://example.com/x.xml"/></body></opml>`

		job := h.run(t, JobRequest{Kind: models.KindImportOPML, Owner: 7, Payload: doc})
		if job.State != models.StateFailed || !strings.Contains(job.Error, "none of 1 feeds") {
			t.Errorf("expected failure, got %s %q", job.State, job.Error)
		}
	})
}

func TestExport(t *testing.T) {
	h := newHarness(t, &fakeFeeds{}, nil)
	h.podcast(t, 7, "https://example.com/a.xml")
	h.podcast(t, 7, "https://example.com/b.xml")
	h.podcast(t, 8, "https://example.com/other.xml")

	job := h.run(t, JobRequest{Kind: models.KindExportOPML, Owner: 7})
	if job.State != models.StateSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", job.State, job.Error)
	}

	files, _ := filepath.Glob(filepath.Join(h.factory.Storage.ExportDir, "podcasts-7-*.opml"))
	if len(files) != 1 {
		t.Fatalf("expected one export file, got %v", files)
	}
	content := th.MustReadFile(t, files[0])
	if !strings.Contains(content, "https://example.com/a.xml") || strings.Contains(content, "other.xml") {
		t.Errorf("unexpected export:\n%s", content)
	}

	doc, err := ParseOPML(strings.NewReader(content))
	if err != nil {
		t.Fatalf("export should parse back: %v", err)
	}
	if len(doc.Feeds()) != 2 {
		t.Errorf("expected 2 feeds, got %d", len(doc.Feeds()))
	}
}

func TestSync(t *testing.T) {
	feeds := &fakeFeeds{feeds: map[string]*Feed{"https://example.com/one.xml": {Title: "One"}}}

	t.Run("subscribes remote feeds", func(t *testing.T) {
		h := newHarness(t, feeds, &fakeSource{urls: []string{"https://example.com/one.xml"}})

		job := h.run(t, JobRequest{Kind: models.KindSyncNextcloud, Owner: 7})
		if job.State != models.StateSucceeded {
			t.Fatalf("expected succeeded, got %s (%s)", job.State, job.Error)
		}
		podcasts, _ := h.factory.Podcasts.ListByUser(context.Background(), 7)
		if len(podcasts) != 1 {
			t.Errorf("expected 1 subscription, got %d", len(podcasts))
		}
	})

	t.Run("source failure", func(t *testing.T) {
		h := newHarness(t, feeds, &fakeSource{err: shared.ErrAuthFailed})

		job := h.run(t, JobRequest{Kind: models.KindSyncNextcloud, Owner: 7})
		if job.State != models.StateFailed || job.Error != shared.ErrAuthFailed.Error() {
			t.Errorf("expected auth failure, got %s %q", job.State, job.Error)
		}
	})
}

func TestBackupRestore(t *testing.T) {
	h := newHarness(t, &fakeFeeds{}, nil)
	ctx := context.Background()

	p := h.podcast(t, 7, "https://example.com/a.xml")
	h.factory.Episodes.UpsertMany(ctx, p.ID, []models.Episode{{GUID: "e1"}, {GUID: "e2"}})
	h.podcast(t, 8, "https://example.com/b.xml")

	job := h.run(t, JobRequest{Kind: models.KindBackup, Owner: 1, Admin: true})
	if job.State != models.StateSucceeded {
		t.Fatalf("backup failed: %s", job.Error)
	}
	files, _ := filepath.Glob(filepath.Join(h.factory.Storage.BackupDir, "backup-*.json"))
	if len(files) != 1 {
		t.Fatalf("expected one backup file, got %v", files)
	}

	// Restore into an empty library sharing the same backup directory.
	fresh := newHarness(t, &fakeFeeds{}, nil)
	fresh.factory.Storage.BackupDir = h.factory.Storage.BackupDir

	job = fresh.run(t, JobRequest{Kind: models.KindRestore, Owner: 1, Admin: true, Target: filepath.Base(files[0])})
	if job.State != models.StateSucceeded {
		t.Fatalf("restore failed: %s", job.Error)
	}

	all, _ := fresh.factory.Podcasts.ListAll(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 podcasts restored, got %d", len(all))
	}
	for _, rp := range all {
		if rp.FeedURL == "https://example.com/a.xml" {
			if n, _ := fresh.factory.Episodes.Count(ctx, rp.ID); n != 2 {
				t.Errorf("expected 2 episodes restored, got %d", n)
			}
		}
	}
}

func TestParseOPML(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    int
		wantErr bool
	}{
		{name: "nested with duplicates", doc: sampleOPML, want: 3},
		{name: "not xml", doc: "hello", wantErr: true},
		{name: "no feeds", doc: `<opml version="2.0"><body><outline text="empty"/></body></opml>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseOPML(strings.NewReader(tt.doc))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			feeds := doc.Feeds()
			if len(feeds) != tt.want {
				t.Errorf("expected %d feeds, got %d", tt.want, len(feeds))
			}
			if feeds[1].Title != "Two Title" {
				t.Errorf("expected title attribute to win, got %q", feeds[1].Title)
			}
		})
	}
}

func TestGofeedFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title> Show </title><description>About</description>
  <item><guid>ep-1</guid><title>First</title><pubDate>Wed, 01 May 2024 10:00:00 GMT</pubDate>
    <enclosure url="https://cdn.example.com/1.mp3" type="audio/mpeg" length="1"/></item>
  <item><link>https://example.com/2</link><title>Second</title></item>
  <item><title>No id</title></item>
</channel></rss>`)
	}))
	defer srv.Close()

	f := NewGofeedFetcher(srv.Client(), time.Second)

	feed, err := f.Fetch(context.Background(), srv.URL+"/feed.xml")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if feed.Title != "Show" || feed.Description != "About" {
		t.Errorf("unexpected feed %+v", feed)
	}
	if len(feed.Episodes) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(feed.Episodes))
	}
	first := feed.Episodes[0]
	if first.GUID != "ep-1" || first.AudioURL != "https://cdn.example.com/1.mp3" || first.PublishedAt == nil {
		t.Errorf("unexpected first episode %+v", first)
	}
	if feed.Episodes[1].GUID != "https://example.com/2" {
		t.Errorf("expected link fallback guid, got %q", feed.Episodes[1].GUID)
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.xml"); err == nil {
		t.Error("expected error for missing feed")
	}
}

func TestNextcloudClient(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    []string
		wantErr error
	}{
		{
			name:   "add minus remove",
			status: http.StatusOK,
			body:   `{"add":["https://a.example/feed","https://b.example/feed"],"remove":["https://b.example/feed"],"timestamp":1}`,
			want:   []string{"https://a.example/feed"},
		},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: shared.ErrAuthFailed},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: shared.ErrAPIRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer access" {
					t.Errorf("expected bearer token, got %q", got)
				}
				if r.URL.Path != "/index.php/apps/gpoddersync/subscriptions" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			conf := NextcloudOAuthConfig(shared.NextcloudConfig{URL: srv.URL})
			token := &oauth2.Token{AccessToken: "access", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
			client := NewNextcloudClient(context.Background(), srv.URL+"/", conf, token)

			urls, err := client.Subscriptions(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("subscriptions failed: %v", err)
			}
			if strings.Join(urls, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expected %v, got %v", tt.want, urls)
			}
		})
	}
}

func TestTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")

	if _, err := LoadToken(path); !errors.Is(err, shared.ErrNoAccessToken) {
		t.Errorf("expected ErrNoAccessToken, got %v", err)
	}

	want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
	if err := SaveToken(path, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Errorf("unexpected token %+v", got)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600, got %v", info.Mode().Perm())
	}
}
