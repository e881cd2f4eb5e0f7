package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const exchangeTimeout = 30 * time.Second

// OAuthResult is the outcome of one authorization code flow.
type OAuthResult struct {
	Token *oauth2.Token
	Err   error
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>podtasks</title></head>
<body>
<p>{{.}}</p>
<p>You can close this window.</p>
</body>
</html>
`))

// OAuthHandler receives the Nextcloud authorization callback used by `podtasks auth nextcloud`.
//
// Only the first callback is processed. Its result is delivered once on [OAuthHandler.Result].
type OAuthHandler struct {
	config *oauth2.Config
	state  string
	result chan OAuthResult
	once   sync.Once
	mu     sync.Mutex
	hit    bool
}

// NewOAuthHandler creates an OAuthHandler expecting state on the callback.
func NewOAuthHandler(config *oauth2.Config, state string) *OAuthHandler {
	return &OAuthHandler{config: config, state: state, result: make(chan OAuthResult, 1)}
}

// Routes implements [Handler].
func (h *OAuthHandler) Routes() []Route {
	return []Route{{Method: http.MethodGet, Path: "/callback"}}
}

// ServeHTTP checks state, exchanges the code and publishes the token.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		writeError(w, http.StatusBadRequest, "callback already processed")
		return
	}
	h.hit = true
	h.mu.Unlock()

	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.send(OAuthResult{Err: fmt.Errorf("state mismatch")})
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.send(OAuthResult{Err: fmt.Errorf("authorization denied: %s %s", q.Get("error"), q.Get("error_description"))})
		writeError(w, http.StatusBadRequest, "authorization denied")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()
	token, err := h.config.Exchange(ctx, code)
	if err != nil {
		h.send(OAuthResult{Err: fmt.Errorf("token exchange failed: %w", err)})
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	h.send(OAuthResult{Token: token})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	callbackPage.Execute(w, "Nextcloud authorization complete.")
}

func (h *OAuthHandler) send(res OAuthResult) {
	h.once.Do(func() {
		h.result <- res
		close(h.result)
	})
}

// Result yields exactly one [OAuthResult] and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.result
}
