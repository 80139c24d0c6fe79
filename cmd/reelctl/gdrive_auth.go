package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"reel/internal/storage"
)

func gdriveAuthCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Mint a Google Drive refresh token for STORAGE_PROVIDER=gdrive",
		Long: "Starts a loopback callback server, prints the Google consent URL and\n" +
			"prints the refresh token once the browser flow completes.\n" +
			"Reads GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
			clientSecret := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
			if clientID == "" || clientSecret == "" {
				return fmt.Errorf("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET must be set")
			}

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return fmt.Errorf("listen for oauth callback: %w", err)
			}
			defer ln.Close()

			conf := storage.DriveOAuthConfig(clientID, clientSecret)
			conf.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)

			state := randomState()
			codeCh := make(chan string, 1)
			errCh := make(chan error, 1)

			mux := http.NewServeMux()
			mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				switch {
				case q.Get("state") != state:
					http.Error(w, "invalid state", http.StatusBadRequest)
					errCh <- fmt.Errorf("invalid oauth state")
				case q.Get("error") != "":
					http.Error(w, "auth error: "+q.Get("error"), http.StatusBadRequest)
					errCh <- fmt.Errorf("auth error: %s", q.Get("error"))
				case q.Get("code") == "":
					http.Error(w, "missing code", http.StatusBadRequest)
					errCh <- fmt.Errorf("missing authorization code")
				default:
					fmt.Fprintln(w, "Done. You can close this window and return to the terminal.")
					codeCh <- q.Get("code")
				}
			})

			srv := &http.Server{
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			go func() { _ = srv.Serve(ln) }()
			defer srv.Close()

			// offline + consent so Google returns a refresh token
			authURL := conf.AuthCodeURL(state,
				oauth2.AccessTypeOffline,
				oauth2.SetAuthURLParam("prompt", "consent"),
			)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", authURL, conf.RedirectURL)

			var code string
			select {
			case code = <-codeCh:
			case err := <-errCh:
				return err
			case <-time.After(timeout):
				return fmt.Errorf("timed out waiting for authorization")
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			tok, err := conf.Exchange(cmd.Context(), code)
			if err != nil {
				return fmt.Errorf("exchange authorization code: %w", err)
			}
			if strings.TrimSpace(tok.RefreshToken) == "" {
				return fmt.Errorf("no refresh token returned; revoke the app at https://myaccount.google.com/permissions and retry")
			}

			fmt.Fprintf(out, "\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "how long to wait for the browser flow")
	return cmd
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
