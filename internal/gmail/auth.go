package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes are the OAuth scopes needed to read, label and reply.
var Scopes = []string{
	gmailapi.GmailReadonlyScope,
	gmailapi.GmailSendScope,
	gmailapi.GmailModifyScope,
}

// authorizedUser is the stored user token. Files written by other OAuth
// tooling carry the access token under "token" and may omit "type".
type authorizedUser struct {
	Type         string    `json:"type,omitempty"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	RefreshToken string    `json:"refresh_token"`
	Token        string    `json:"token,omitempty"`
	TokenURI     string    `json:"token_uri,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// TokenSource loads user credentials from tokenFile. With no file it falls
// back to application default credentials.
func TokenSource(ctx context.Context, tokenFile string) (oauth2.TokenSource, error) {
	if tokenFile == "" {
		ts, err := google.DefaultTokenSource(ctx, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("gmail: default credentials: %w", err)
		}
		return ts, nil
	}

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("gmail: read token file: %w", err)
	}
	var au authorizedUser
	if err := json.Unmarshal(data, &au); err != nil {
		return nil, fmt.Errorf("gmail: parse token file %s: %w", tokenFile, err)
	}
	if au.RefreshToken == "" || au.ClientID == "" {
		return nil, fmt.Errorf("gmail: token file %s lacks client_id or refresh_token", tokenFile)
	}

	conf := &oauth2.Config{
		ClientID:     au.ClientID,
		ClientSecret: au.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
	if au.TokenURI != "" {
		conf.Endpoint.TokenURL = au.TokenURI
	}
	tok := &oauth2.Token{
		AccessToken:  au.Token,
		RefreshToken: au.RefreshToken,
		Expiry:       au.Expiry,
	}
	return oauth2.ReuseTokenSource(tok, conf.TokenSource(ctx, tok)), nil
}

// NewService builds a Gmail API service authorized by ts.
func NewService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*gmailapi.Service, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}
	return svc, nil
}

// OAuthConfig reads an installed-app client secret downloaded from the
// cloud console.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("gmail: read credentials file: %w", err)
	}
	conf, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("gmail: parse credentials file: %w", err)
	}
	return conf, nil
}

// SaveToken writes tok in the authorized-user format read by TokenSource.
func SaveToken(path string, conf *oauth2.Config, tok *oauth2.Token) error {
	au := authorizedUser{
		Type:         "authorized_user",
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		RefreshToken: tok.RefreshToken,
		Token:        tok.AccessToken,
		TokenURI:     conf.Endpoint.TokenURL,
		Expiry:       tok.Expiry,
	}
	data, err := json.MarshalIndent(au, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("gmail: create token dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
