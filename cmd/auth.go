package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/podtasks/internal/auth"
	"github.com/desertthunder/podtasks/internal/server"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/workers"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// AuthToken prints a signed JWT for --user.
func (r *Runner) AuthToken(ctx context.Context, cmd *cli.Command) error {
	if r.config.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwt_secret is not set", shared.ErrMissingConfig)
	}

	ttl := cmd.Duration("ttl")
	if ttl <= 0 {
		ttl = r.config.Auth.TokenTTL
	}

	token, err := auth.NewJWTAuthenticator(r.config.Auth.JWTSecret, ttl).Issue(cmd.Int64("user"), cmd.Bool("admin"))
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", token)
}

// AuthHashKey prints the bcrypt hash to paste into [[auth.api_keys]].
func (r *Runner) AuthHashKey(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("key")
	if key == "" {
		return fmt.Errorf("%w: key", shared.ErrMissingArgument)
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", hash)
}

// AuthStatus checks that the server answers and accepts the configured token.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	client := r.api(cmd)
	if err := client.Health(ctx); err != nil {
		return err
	}
	r.writePlain("✓ Server is healthy\n")

	if _, err := client.List(ctx); err != nil {
		r.writePlain("Authentication: ✗ %v\n", err)
		return nil
	}
	return r.writePlain("Authentication: ✓ token accepted\n")
}

// AuthNextcloud runs the authorization code flow against Nextcloud and saves the token to nextcloud.token_path.
func (r *Runner) AuthNextcloud(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Nextcloud
	if cfg.URL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return fmt.Errorf("%w: nextcloud url, client_id and client_secret must be set", shared.ErrMissingConfig)
	}

	token, err := r.doOAuth(ctx, workers.NextcloudOAuthConfig(cfg), cmd.Duration("timeout"))
	if err != nil {
		return err
	}

	if err := workers.SaveToken(cfg.TokenPath, token); err != nil {
		return err
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Token saved to %s\n", cfg.TokenPath)
	return r.writePlain("Restart 'podtasks serve' to enable sync_nextcloud jobs.\n")
}

// doOAuth serves the callback on the redirect URI's host, opens the browser and waits for the token.
func (r *Runner) doOAuth(ctx context.Context, conf *oauth2.Config, timeout time.Duration) (*oauth2.Token, error) {
	redirect, err := url.Parse(conf.RedirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("%w: nextcloud.redirect_uri %q", shared.ErrInvalidConfig, conf.RedirectURL)
	}

	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	handler := server.NewOAuthHandler(conf, state)
	router := server.NewBasicRouter()
	router.Handler(handler)

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	httpServer := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Info("waiting for OAuth callback", "addr", redirect.Host)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
	r.writePlain("→ Opening browser for Nextcloud authorization...\n")
	if err := shared.OpenBrowser(ctx, authURL); err != nil {
		r.logger.Warn("failed to open browser automatically", "error", err)
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-handler.Result():
		if result.Err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, result.Err)
		}
		return result.Token, nil
	case err := <-serverErrors:
		return nil, fmt.Errorf("callback server error: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no authorization after %s", shared.ErrTimeout, timeout)
	}
}
