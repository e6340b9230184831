package services_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment-service/services"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) GetToken(context.Context) (string, error) { return s.token, s.err }

func TestRequestPush_SendsSignedRequest(t *testing.T) {
	var got services.STKPushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mpesa/stkpush/v1/processrequest", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(services.STKPushResponse{
			MerchantRequestID: "MR-1",
			CheckoutRequestID: "ws_CO_1",
			ResponseCode:      "0",
		})
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	client := services.NewDarajaClient(srv.URL, "174379", "passkey", "https://shop.example/payments/callback", staticTokens{token: "tok-1"}, logger)

	resp, err := client.RequestPush(context.Background(), "ORD-42", 1500, "254712345678")
	assert.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)

	assert.Equal(t, "174379", got.BusinessShortCode)
	assert.Equal(t, "CustomerPayBillOnline", got.TransactionType)
	assert.Equal(t, "1500", got.Amount)
	assert.Equal(t, "254712345678", got.PartyA)
	assert.Equal(t, "254712345678", got.PhoneNumber)
	assert.Equal(t, "174379", got.PartyB)
	assert.Equal(t, "https://shop.example/payments/callback", got.CallBackURL)
	assert.Equal(t, "ORD-42", got.AccountReference)

	// Password must be base64(shortcode + passkey + timestamp) with the
	// timestamp echoed in the request.
	_, err = time.Parse("20060102150405", got.Timestamp)
	assert.NoError(t, err)
	want := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + got.Timestamp))
	assert.Equal(t, want, got.Password)
}

func TestRequestPush_RejectedResponseCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(services.STKPushResponse{
			ResponseCode:        "1032",
			ResponseDescription: "Request cancelled by user",
		})
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	client := services.NewDarajaClient(srv.URL, "174379", "passkey", "https://shop.example/cb", staticTokens{token: "tok-1"}, logger)

	_, err := client.RequestPush(context.Background(), "ORD-42", 1500, "254712345678")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "1032")
}

func TestRequestPush_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	client := services.NewDarajaClient(srv.URL, "174379", "passkey", "https://shop.example/cb", staticTokens{token: "tok-1"}, logger)

	_, err := client.RequestPush(context.Background(), "ORD-42", 1500, "254712345678")
	assert.Error(t, err)
}

func TestRequestPush_MissingCheckoutRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(services.STKPushResponse{ResponseCode: "0"})
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	client := services.NewDarajaClient(srv.URL, "174379", "passkey", "https://shop.example/cb", staticTokens{token: "tok-1"}, logger)

	_, err := client.RequestPush(context.Background(), "ORD-42", 1500, "254712345678")
	assert.Error(t, err)
}

func TestRequestPush_TokenFailurePropagates(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	client := services.NewDarajaClient("http://127.0.0.1:0", "174379", "passkey", "https://shop.example/cb", staticTokens{err: services.ErrTokenFetch}, logger)

	_, err := client.RequestPush(context.Background(), "ORD-42", 1500, "254712345678")
	assert.ErrorIs(t, err, services.ErrTokenFetch)
}
