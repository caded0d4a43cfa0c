package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

var ErrVerificationFailed = errors.New("credential verification failed")

// Identity is what a verifier confirmed about a bearer credential.
type Identity struct {
	Subject string
	Email   string
	Name    string
	// Local is set for tokens issued by this service; Subject is then the
	// internal user id rather than an external one.
	Local bool
}

// Verifier confirms a bearer credential with its issuer.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// HTTPVerifier confirms a token by presenting it to the identity provider's
// user endpoint, e.g. GET /auth/v1/user.
type HTTPVerifier struct {
	url     string
	apiKey  string
	timeout time.Duration
	base    *http.Client
}

func NewHTTPVerifier(url, apiKey string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPVerifier{
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
		base: &http.Client{
			Timeout:   timeout,
			Transport: &apiKeyTransport{key: apiKey, next: http.DefaultTransport},
		},
	}
}

type userResponse struct {
	ID               string     `json:"id"`
	Sub              string     `json:"sub"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	Name             string     `json:"name"`
	UserMetadata     struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"user_metadata"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling verifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrVerificationFailed, resp.StatusCode)
	}

	var body userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding verifier response: %w", err)
	}

	subject := body.ID
	if subject == "" {
		subject = body.Sub
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrVerificationFailed)
	}
	// only confirmed addresses may link to an account by email
	if body.Email != "" && body.EmailConfirmedAt == nil {
		return nil, fmt.Errorf("%w: email not confirmed", ErrVerificationFailed)
	}

	name := body.UserMetadata.FullName
	if name == "" {
		name = body.UserMetadata.Name
	}
	if name == "" {
		name = body.Name
	}

	return &Identity{Subject: subject, Email: body.Email, Name: name}, nil
}

// apiKeyTransport adds the provider's project key, which some identity
// providers require next to the user's bearer token.
type apiKeyTransport struct {
	key  string
	next http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.key == "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("apikey", t.key)
	return t.next.RoundTrip(r)
}
