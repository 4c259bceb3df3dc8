package featureservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stwalsh4118/featuresync/internal/logger"
)

// tokenRefreshSkew renews a token this long before the server-side expiry.
const tokenRefreshSkew = time.Minute

// defaultTokenExpiration is requested when no lifetime is configured.
const defaultTokenExpiration = 60 * time.Minute

// ErrMissingCredentials is returned when the portal URL, username or password is unset.
var ErrMissingCredentials = errors.New("missing portal URL, username or password")

// TokenProvider hands out a bearer token for service requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Credentials identify the account used to derive tokens.
type Credentials struct {
	PortalURL  string
	Username   string
	Password   string
	Referer    string
	Expiration time.Duration
}

func (c Credentials) complete() bool {
	return c.PortalURL != "" && c.Username != "" && c.Password != ""
}

// Session holds an optional token for one run. Token derives it on first
// use and again only once it is within a minute of its reported expiry.
type Session struct {
	creds      Credentials
	httpClient *http.Client
	log        *logger.Logger
	now        func() time.Time

	mu            sync.Mutex
	token         string
	expires       time.Time
	warnedMissing bool
}

// NewSession creates a Session. A nil httpClient uses http.DefaultClient.
func NewSession(creds Credentials, httpClient *http.Client, log *logger.Logger) *Session {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.Nop()
	}
	if creds.Expiration <= 0 {
		creds.Expiration = defaultTokenExpiration
	}
	return &Session{
		creds:      creds,
		httpClient: httpClient,
		log:        log,
		now:        time.Now,
	}
}

// Token returns the cached token while it is fresh, otherwise derives a new one.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expires.Add(-tokenRefreshSkew)) {
		return s.token, nil
	}

	if !s.creds.complete() {
		if !s.warnedMissing {
			s.log.Error("Missing URL, USER_NAME, or PASSWORD; continuing without a token", ErrMissingCredentials, nil)
			s.warnedMissing = true
		}
		return "", ErrMissingCredentials
	}

	token, expires, err := s.generate(ctx)
	if err != nil {
		s.log.Error("Error generating token", err, map[string]interface{}{
			"portal": s.creds.PortalURL,
		})
		return "", err
	}

	s.token = token
	s.expires = expires
	s.log.Info("Token successfully generated", map[string]interface{}{
		"expires": expires.Format(time.RFC3339),
	})
	return s.token, nil
}

// Expires reports the expiry of the cached token, zero when none is held.
func (s *Session) Expires() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expires
}

// generate calls the portal's generateToken endpoint.
func (s *Session) generate(ctx context.Context) (string, time.Time, error) {
	endpoint := strings.TrimRight(s.creds.PortalURL, "/") + "/sharing/rest/generateToken"

	referer := s.creds.Referer
	if referer == "" {
		referer = s.creds.PortalURL
	}

	form := url.Values{}
	form.Set("username", s.creds.Username)
	form.Set("password", s.creds.Password)
	form.Set("referer", referer)
	form.Set("expiration", strconv.Itoa(int(s.creds.Expiration/time.Minute)))
	form.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", time.Time{}, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	if serviceErr := gjson.GetBytes(body, "error"); serviceErr.Exists() {
		return "", time.Time{}, &ServiceError{
			Code:    serviceErr.Get("code").Int(),
			Message: serviceErr.Get("message").String(),
		}
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return "", time.Time{}, errors.New("authentication failed: token response carries no token")
	}

	expires := s.now().Add(s.creds.Expiration)
	if ms := gjson.GetBytes(body, "expires").Int(); ms > 0 {
		expires = time.UnixMilli(ms)
	}

	return token, expires, nil
}
