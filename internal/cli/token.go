package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

// newGmailTokenCommand walks through the OAuth consent flow and prints the
// refresh token to store on a gmail_api account
func newGmailTokenCommand() *cobra.Command {
	var redirectURL string
	cmd := &cobra.Command{
		Use:   "gmail-token",
		Short: "Obtain a Gmail refresh token for a gmail_api account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Gmail.ClientID == "" || cfg.Gmail.ClientSecret == "" {
				return fmt.Errorf("please set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET")
			}

			oc := &oauth2.Config{
				ClientID:     cfg.Gmail.ClientID,
				ClientSecret: cfg.Gmail.ClientSecret,
				Scopes:       []string{gmail.GmailSendScope, gmail.GmailReadonlyScope},
				Endpoint:     google.Endpoint,
				RedirectURL:  redirectURL,
			}

			out := cmd.OutOrStdout()
			authURL := oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
			fmt.Fprintf(out, "Go to the following link in your browser: %v\n", authURL)
			fmt.Fprintln(out, "\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

			var authCode string
			fmt.Fprint(out, "\nEnter the authorization code: ")
			if _, err := fmt.Fscan(cmd.InOrStdin(), &authCode); err != nil {
				return fmt.Errorf("failed to read authorization code: %w", err)
			}

			tok, err := oc.Exchange(cmd.Context(), authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Fprintf(out, "\nRefresh Token: %s\n", tok.RefreshToken)
			fmt.Fprintf(out, "Expiry: %v\n", tok.Expiry)
			fmt.Fprintln(out, "\nStore the refresh token as refresh_token on the account (seed file or POST /api/v1/accounts).")
			return nil
		},
	}
	cmd.Flags().StringVar(&redirectURL, "redirect-url", "http://localhost:8080/callback", "OAuth redirect URL registered for the client")
	return cmd
}
