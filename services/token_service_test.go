package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payment-service/services"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func tokenServer(t *testing.T, hits *int64, respond func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		assert.Equal(t, "/oauth/v1/generate", r.URL.Path)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		respond(w, r)
	}))
}

func writeToken(w http.ResponseWriter, token string) {
	json.NewEncoder(w).Encode(map[string]string{
		"access_token": token,
		"expires_in":   "3599",
	})
}

func TestGetToken_CachesUntilMargin(t *testing.T) {
	var hits int64
	srv := tokenServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		writeToken(w, "tok-1")
	})
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	svc := services.NewTokenService(srv.URL, "key", "secret", time.Minute, logger)

	for i := 0; i < 5; i++ {
		tok, err := svc.GetToken(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestGetToken_SingleFlightUnderConcurrency(t *testing.T) {
	var hits int64
	srv := tokenServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond) // hold concurrent callers on the same flight
		writeToken(w, "tok-shared")
	})
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	svc := services.NewTokenService(srv.URL, "key", "secret", time.Minute, logger)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := svc.GetToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-shared", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestGetToken_RefreshesWithinMargin(t *testing.T) {
	var hits int64
	srv := tokenServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.LoadInt64(&hits)
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_in":   "1", // expires almost immediately against a 1h margin
		})
	})
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	svc := services.NewTokenService(srv.URL, "key", "secret", time.Hour, logger)

	tok, err := svc.GetToken(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// The cached token is inside the margin, so the next call fetches again.
	tok, err = svc.GetToken(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestGetToken_RetriesTransientFailure(t *testing.T) {
	var hits int64
	srv := tokenServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt64(&hits) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeToken(w, "tok-after-retry")
	})
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	svc := services.NewTokenService(srv.URL, "key", "secret", time.Minute, logger)

	tok, err := svc.GetToken(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "tok-after-retry", tok)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestGetToken_ExhaustedRetriesReturnError(t *testing.T) {
	var hits int64
	srv := tokenServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	svc := services.NewTokenService(srv.URL, "key", "secret", time.Minute, logger)

	_, err := svc.GetToken(context.Background())
	assert.ErrorIs(t, err, services.ErrTokenFetch)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
}

func TestGetToken_EmptyTokenRejected(t *testing.T) {
	var hits int64
	srv := tokenServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		writeToken(w, "")
	})
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	svc := services.NewTokenService(srv.URL, "key", "secret", time.Minute, logger)

	_, err := svc.GetToken(context.Background())
	assert.ErrorIs(t, err, services.ErrTokenFetch)
}
