package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/tdx/internal/server"
	"github.com/desertthunder/tdx/internal/services"
	"github.com/desertthunder/tdx/internal/shared"
)

// SpotifyLogin runs the OAuth2 authorization code flow: starts a local
// callback server, opens the authorization URL, and prints the tokens to
// put into config.toml.
func (r *Runner) SpotifyLogin(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Credentials.Spotify
	svc, err := services.NewSpotifyService(creds.ClientID, creds.ClientSecret, creds.RedirectURI)
	if err != nil {
		return fmt.Errorf("spotify configuration: %w", err)
	}

	redirect, err := url.Parse(svc.RedirectURI())
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}

	state := shared.GenerateID()
	handler := server.NewOAuthHandler(svc.OAuthConfig(), state)

	router := server.NewBasicRouter()
	router.Handler(handler)

	srv := &http.Server{Addr: redirect.Host, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("callback server failed", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	r.writePlain("Open this URL in your browser to authorize:\n\n%s\n\n", svc.GetAuthURL(state))
	r.logger.Info("waiting for authorization callback", "addr", redirect.Host)

	select {
	case result := <-handler.Result():
		if err := result.Error(); err != nil {
			return err
		}
		r.writePlainln("✓ Authorization successful")
		r.writePlain("Add these to config.toml under [credentials.spotify]:\n")
		r.writePlain("access_token = %q\n", result.Token.AccessToken)
		r.writePlain("refresh_token = %q\n", result.Token.RefreshToken)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// authCommand handles authentication operations.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:   "spotify",
				Usage:  "Authenticate with Spotify using OAuth2",
				Action: r.SpotifyLogin,
			},
		},
	}
}
