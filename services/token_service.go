package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenProvider supplies a valid gateway access token.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

const (
	tokenFetchAttempts   = 3
	tokenBackoffBase     = 500 * time.Millisecond
	tokenBackoffCap      = 8 * time.Second
	defaultTokenLifetime = 3600 * time.Second
)

// TokenService caches the Daraja OAuth2 client-credentials token and refreshes
// it before expiry. Concurrent callers during a refresh share one in-flight
// fetch instead of issuing duplicates.
type TokenService struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	margin         time.Duration
	logger         *zap.Logger

	group singleflight.Group

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func NewTokenService(baseURL, consumerKey, consumerSecret string, margin time.Duration, logger *zap.Logger) *TokenService {
	return &TokenService{
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		margin:         margin,
		logger:         logger,
	}
}

// GetToken returns the cached token while it remains outside the expiry
// margin, otherwise fetches a fresh one.
func (s *TokenService) GetToken(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	v, err, _ := s.group.Do("oauth", func() (interface{}, error) {
		// A waiter may arrive just after the winner stored a fresh token.
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		return s.fetchWithRetry(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenService) cached() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != "" && time.Now().Before(s.expiresAt.Add(-s.margin)) {
		return s.token, true
	}
	return "", false
}

func (s *TokenService) fetchWithRetry(ctx context.Context) (string, error) {
	backoff := tokenBackoffBase
	var lastErr error

	for attempt := 1; attempt <= tokenFetchAttempts; attempt++ {
		tok, err := s.fetch(ctx)
		if err == nil {
			return tok, nil
		}
		lastErr = err
		s.logger.Warn("Token fetch failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == tokenFetchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrTokenFetch, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > tokenBackoffCap {
			backoff = tokenBackoffCap
		}
	}

	return "", fmt.Errorf("%w: %v", ErrTokenFetch, lastErr)
}

func (s *TokenService) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.consumerKey, s.consumerSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("credential endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("credential endpoint returned an empty token")
	}

	lifetime := defaultTokenLifetime
	if secs, err := strconv.Atoi(body.ExpiresIn); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}

	s.mu.Lock()
	s.token = body.AccessToken
	s.expiresAt = time.Now().Add(lifetime)
	s.mu.Unlock()

	return body.AccessToken, nil
}
