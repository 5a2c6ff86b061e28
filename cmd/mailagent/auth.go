package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"mailagent/internal/gmail"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize the mailbox and store the OAuth token",
		Long: `Runs the installed-app OAuth flow with mailbox.credentialsFile and writes
the resulting refresh token to mailbox.tokenFile.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Mailbox.CredentialsFile == "" || cfg.Mailbox.TokenFile == "" {
				return fmt.Errorf("mailbox.credentialsFile and mailbox.tokenFile must be set")
			}
			conf, err := gmail.OAuthConfig(cfg.Mailbox.CredentialsFile)
			if err != nil {
				return err
			}
			if conf.RedirectURL == "" {
				conf.RedirectURL = "http://localhost"
			}

			url := conf.AuthCodeURL("mailagent", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
			fmt.Println("Open this URL in a browser and authorize access:")
			fmt.Println()
			fmt.Println("  " + url)
			fmt.Println()
			fmt.Print("Paste the code parameter from the redirect URL: ")

			code, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("read code: %w", err)
			}
			tok, err := conf.Exchange(context.Background(), strings.TrimSpace(code))
			if err != nil {
				return fmt.Errorf("exchange code: %w", err)
			}
			if tok.RefreshToken == "" {
				return fmt.Errorf("no refresh token returned; revoke the app's access and retry")
			}
			if err := gmail.SaveToken(cfg.Mailbox.TokenFile, conf, tok); err != nil {
				return err
			}
			logger.Info("token saved", "file", cfg.Mailbox.TokenFile)
			return nil
		},
	}
}
