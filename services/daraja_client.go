package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// PushGateway submits an STK push request for an order.
type PushGateway interface {
	RequestPush(ctx context.Context, orderRef string, amount int64, phoneNumber string) (*STKPushResponse, error)
}

type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// DarajaClient talks to the Safaricom Daraja STK push endpoint.
type DarajaClient struct {
	httpClient  *http.Client
	baseURL     string
	shortCode   string
	passkey     string
	callbackURL string
	tokens      TokenProvider
	logger      *zap.Logger
}

func NewDarajaClient(baseURL, shortCode, passkey, callbackURL string, tokens TokenProvider, logger *zap.Logger) *DarajaClient {
	return &DarajaClient{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     baseURL,
		shortCode:   shortCode,
		passkey:     passkey,
		callbackURL: callbackURL,
		tokens:      tokens,
		logger:      logger,
	}
}

// RequestPush asks the gateway to prompt the customer's device. The password
// is base64(shortcode + passkey + timestamp) per the Daraja contract.
func (c *DarajaClient) RequestPush(ctx context.Context, orderRef string, amount int64, phoneNumber string) (*STKPushResponse, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.shortCode + c.passkey + timestamp))

	pushReq := STKPushRequest{
		BusinessShortCode: c.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            strconv.FormatInt(amount, 10),
		PartyA:            phoneNumber,
		PartyB:            c.shortCode,
		PhoneNumber:       phoneNumber,
		CallBackURL:       c.callbackURL,
		AccountReference:  orderRef,
		TransactionDesc:   "Order " + orderRef,
	}

	payload, err := json.Marshal(pushReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}

	var pushResp STKPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushResp); err != nil {
		return nil, fmt.Errorf("decoding push response: %w", err)
	}
	if pushResp.ResponseCode != "0" {
		return nil, fmt.Errorf("push rejected: %s (%s)", pushResp.ResponseDescription, pushResp.ResponseCode)
	}
	if pushResp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("push accepted without a CheckoutRequestID")
	}

	c.logger.Info("STK push accepted",
		zap.String("order_ref", orderRef),
		zap.String("checkout_request_id", pushResp.CheckoutRequestID),
	)

	return &pushResp, nil
}
