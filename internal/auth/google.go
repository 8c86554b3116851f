// Package auth implements the Google OAuth2 authorization-code exchange and
// ID-token verification.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
)

var ErrInvalidToken = errors.New("invalid id token")

// UpstreamError reports a non-success response from the provider's token
// endpoint; the status is passed through to the client.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d", e.Status)
}

// Profile is the verified identity payload extracted from a Google ID token.
type Profile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

type Google struct {
	clientID     string
	clientSecret string
	redirectURL  string
	httpClient   *http.Client

	// Endpoints are fields so tests can point them at httptest servers.
	authURL  string
	tokenURL string
	jwksURL  string

	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
}

func NewGoogle(clientID, clientSecret, redirectURL string) *Google {
	return &Google{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		authURL:      googleAuthURL,
		tokenURL:     googleTokenURL,
		jwksURL:      googleJWKSURL,
		keys:         map[string]*rsa.PublicKey{},
	}
}

// AuthCodeURL is the consent-screen redirect target that starts a login.
func (g *Google) AuthCodeURL(state string) string {
	values := url.Values{
		"client_id":     {g.clientID},
		"redirect_uri":  {g.redirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
	}
	if state != "" {
		values.Set("state", state)
	}
	return g.authURL + "?" + values.Encode()
}

// Exchange swaps an authorization code for a verified identity. The
// server-to-server POST carries the client secret; the returned id_token is
// verified before any claim is trusted.
func (g *Google) Exchange(ctx context.Context, code string) (Profile, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {g.clientID},
		"client_secret": {g.clientSecret},
		"redirect_uri":  {g.redirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Profile{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, &UpstreamError{Status: resp.StatusCode}
	}

	var payload struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Profile{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.IDToken == "" {
		return Profile{}, ErrInvalidToken
	}

	return g.VerifyIDToken(ctx, payload.IDToken)
}

// VerifyIDToken checks the RS256 signature against Google's published keys and
// the audience against our client id.
func (g *Google) VerifyIDToken(ctx context.Context, idToken string) (Profile, error) {
	token, err := jwt.Parse(idToken, g.keyFunc(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(g.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Profile{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Profile{}, ErrInvalidToken
	}
	issuer, _ := claims.GetIssuer()
	if issuer != "https://accounts.google.com" && issuer != "accounts.google.com" {
		return Profile{}, ErrInvalidToken
	}
	subject, _ := claims.GetSubject()
	if subject == "" {
		return Profile{}, ErrInvalidToken
	}

	return Profile{
		Subject: subject,
		Email:   stringClaim(claims, "email"),
		Name:    stringClaim(claims, "name"),
		Picture: stringClaim(claims, "picture"),
	}, nil
}

func (g *Google) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrInvalidToken
		}

		g.mu.Lock()
		key, ok := g.keys[kid]
		g.mu.Unlock()
		if ok {
			return key, nil
		}

		// Unknown kid: Google rotates keys, refetch the set once.
		if err := g.refreshKeys(ctx); err != nil {
			return nil, err
		}

		g.mu.Lock()
		key, ok = g.keys[kid]
		g.mu.Unlock()
		if !ok {
			return nil, ErrInvalidToken
		}
		return key, nil
	}
}

func (g *Google) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, jwk := range payload.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		key, err := rsaKeyFromJWK(jwk.N, jwk.E)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = key
	}

	g.mu.Lock()
	g.keys = keys
	g.mu.Unlock()
	return nil
}

func rsaKeyFromJWK(rawN, rawE string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(rawN)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(rawE)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return value
}
