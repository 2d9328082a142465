package utils

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"mailburst/config"
	"mailburst/models"
)

// OAuthStateTTL bounds how long a redirect state stays valid.
const OAuthStateTTL = 10 * time.Minute

var (
	ErrStateExpired = errors.New("oauth state expired")
	ErrStateInvalid = errors.New("oauth state invalid")

	// ErrTokenRefresh marks refresh failures so callers can flag the account
	// as needing re-authentication rather than plain errored.
	ErrTokenRefresh = errors.New("token refresh failed")
)

var microsoftEndpoint = oauth2.Endpoint{
	AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
	TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
}

var yahooEndpoint = oauth2.Endpoint{
	AuthURL:  "https://api.login.yahoo.com/oauth2/request_auth",
	TokenURL: "https://api.login.yahoo.com/oauth2/get_token",
}

// OAuthConfigFor returns the oauth2 config for a provider family, or nil for
// password-based providers.
func OAuthConfigFor(provider string) *oauth2.Config {
	switch provider {
	case models.ProviderGmail:
		return &oauth2.Config{
			ClientID:     config.AppConfig.Google.ClientID,
			ClientSecret: config.AppConfig.Google.ClientSecret,
			RedirectURL:  config.AppConfig.Google.RedirectURI,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.send",
				"https://www.googleapis.com/auth/userinfo.email",
			},
		}
	case models.ProviderOutlook:
		return &oauth2.Config{
			ClientID:     config.AppConfig.Microsoft.ClientID,
			ClientSecret: config.AppConfig.Microsoft.ClientSecret,
			RedirectURL:  config.AppConfig.Microsoft.RedirectURI,
			Endpoint:     microsoftEndpoint,
			Scopes: []string{
				"openid", "email", "offline_access",
				"https://outlook.office.com/SMTP.Send",
			},
		}
	case models.ProviderYahoo:
		return &oauth2.Config{
			ClientID:     config.AppConfig.Yahoo.ClientID,
			ClientSecret: config.AppConfig.Yahoo.ClientSecret,
			RedirectURL:  config.AppConfig.Yahoo.RedirectURI,
			Endpoint:     yahooEndpoint,
			Scopes:       []string{"openid", "email", "mail-w"},
		}
	default:
		return nil
	}
}

// OAuthState is the payload carried through the OAuth redirect.
type OAuthState struct {
	UserID   uint   `json:"user_id"`
	Slot     int    `json:"slot"`
	Provider string `json:"provider"`
	IssuedAt int64  `json:"issued_at"`
}

// EncodeOAuthState signs and encodes the state parameter.
func EncodeOAuthState(userID uint, slot int, provider string, now time.Time) (string, error) {
	payload, err := json.Marshal(OAuthState{
		UserID:   userID,
		Slot:     slot,
		Provider: provider,
		IssuedAt: now.Unix(),
	})
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(config.AppConfig.JWTSecret))
	mac.Write(payload)
	sig := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(sig), nil
}

// DecodeOAuthState verifies the signature and rejects states older than
// OAuthStateTTL, regardless of whether the authorization code is valid.
func DecodeOAuthState(state string, now time.Time) (*OAuthState, error) {
	var payloadPart, sigPart string
	for i := len(state) - 1; i >= 0; i-- {
		if state[i] == '.' {
			payloadPart, sigPart = state[:i], state[i+1:]
			break
		}
	}
	if payloadPart == "" || sigPart == "" {
		return nil, ErrStateInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, ErrStateInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, ErrStateInvalid
	}

	mac := hmac.New(sha256.New, []byte(config.AppConfig.JWTSecret))
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrStateInvalid
	}

	var st OAuthState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, ErrStateInvalid
	}

	if now.Sub(time.Unix(st.IssuedAt, 0)) > OAuthStateTTL {
		return nil, ErrStateExpired
	}

	return &st, nil
}

// FetchOAuthEmail retrieves the verified email address behind an access token.
func FetchOAuthEmail(ctx context.Context, provider string, token *oauth2.Token) (string, error) {
	cfg := OAuthConfigFor(provider)
	if cfg == nil {
		return "", fmt.Errorf("provider %s does not use oauth", provider)
	}

	var userinfoURL string
	switch provider {
	case models.ProviderGmail:
		userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	case models.ProviderOutlook:
		userinfoURL = "https://graph.microsoft.com/oidc/userinfo"
	case models.ProviderYahoo:
		userinfoURL = "https://api.login.yahoo.com/openid/v1/userinfo"
	}

	client := cfg.Client(ctx, token)
	resp, err := client.Get(userinfoURL)
	if err != nil {
		return "", fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("userinfo error: %s", string(body))
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to parse user info: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("provider did not return an email address")
	}
	return info.Email, nil
}

// FreshAccessToken returns a valid access token for an OAuth sender,
// refreshing and persisting the bundle when the stored token has expired.
func FreshAccessToken(ctx context.Context, db *gorm.DB, sender *models.Sender) (string, error) {
	accessToken, err := Decrypt(sender.OAuthToken)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}
	refreshToken, err := Decrypt(sender.OAuthRefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       sender.OAuthExpiry,
	}
	if tok.Valid() {
		return accessToken, nil
	}

	cfg := OAuthConfigFor(sender.Provider)
	if cfg == nil {
		return "", fmt.Errorf("provider %s does not use oauth", sender.Provider)
	}

	fresh, err := cfg.TokenSource(ctx, tok).Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}

	if fresh.AccessToken != accessToken {
		encAccess, err := Encrypt(fresh.AccessToken)
		if err != nil {
			return "", err
		}
		updates := map[string]interface{}{
			"oauth_token":  encAccess,
			"oauth_expiry": fresh.Expiry,
		}
		if fresh.RefreshToken != "" && fresh.RefreshToken != refreshToken {
			encRefresh, err := Encrypt(fresh.RefreshToken)
			if err != nil {
				return "", err
			}
			updates["oauth_refresh_token"] = encRefresh
		}
		if err := db.Model(&models.Sender{}).Where("id = ?", sender.ID).Updates(updates).Error; err != nil {
			return "", fmt.Errorf("persist refreshed token: %w", err)
		}
		sender.OAuthToken = encAccess
		sender.OAuthExpiry = fresh.Expiry
	}

	return fresh.AccessToken, nil
}
