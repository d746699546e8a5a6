// ABOUTME: Webex OAuth CLI commands
// ABOUTME: Handles auth init (local callback flow), status, and clear
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"

	"golang.org/x/oauth2"

	"github.com/harperreed/cdrsync/sync"
)

// AuthInitCommand runs the OAuth authorization-code flow with a
// short-lived local callback server. The authorization code is handed
// back over a channel; no process-wide mutable state.
func AuthInitCommand(store sync.SecretStore, args []string) error {
	ctx := context.Background()

	config, err := sync.NewOAuthConfig()
	if err != nil {
		return fmt.Errorf("failed to get OAuth config: %w", err)
	}

	// Start local server for OAuth callback
	callbackChan := make(chan *oauth2.Token)
	errChan := make(chan error)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			return
		}

		token, err := config.Exchange(ctx, code)
		if err != nil {
			errChan <- fmt.Errorf("failed to exchange code: %w", err)
			return
		}

		callbackChan <- token
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
	})

	server := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	authURL := config.AuthCodeURL("state", oauth2.AccessTypeOffline)

	fmt.Println("Opening browser for Webex OAuth...")
	fmt.Printf("\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)

	_ = openBrowser(authURL)

	// Wait for callback or error
	select {
	case token := <-callbackChan:
		_ = server.Shutdown(ctx)

		if err := sync.SaveToken(store, token); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}

		fmt.Printf("\n✓ Authenticated successfully\n")
		fmt.Println("✓ Tokens saved")
		fmt.Println("\nReady to sync! Run 'cdrsync sync' to download CDR records.")

		return nil

	case err := <-errChan:
		_ = server.Shutdown(ctx)
		return fmt.Errorf("OAuth flow failed: %w", err)
	}
}

// AuthStatusCommand reports whether credentials exist and the refresh
// token still works.
func AuthStatusCommand(store sync.SecretStore, args []string) error {
	token, err := sync.LoadToken(store)
	if err != nil {
		return err
	}
	if token == nil {
		fmt.Println("No stored Webex credentials. Run 'cdrsync auth init' first.")
		return nil
	}

	fmt.Println("✓ Webex credentials found")
	if token.RefreshToken == "" {
		fmt.Println("  ✗ No refresh token stored; re-run 'cdrsync auth init'")
		return nil
	}

	manager, err := sync.NewAuthManager(store)
	if err != nil {
		return err
	}
	if err := manager.Refresh(context.Background()); err != nil {
		fmt.Printf("  ✗ Token refresh failed: %v\n", err)
		return nil
	}

	fmt.Println("  ✓ Token refresh works")
	return nil
}

// AuthClearCommand deletes stored credentials.
func AuthClearCommand(store sync.SecretStore, args []string) error {
	if err := sync.ClearToken(store); err != nil {
		return err
	}
	fmt.Println("✓ Webex credentials cleared")
	return nil
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	command := exec.Command(cmd, args...)
	return command.Start()
}
