package models

import "strconv"

// STKCallbackEnvelope is the gateway-shaped body delivered to the callback URL.
type STKCallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem values arrive as either JSON numbers or strings depending on
// the field, so Value stays untyped until read through the helpers below.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// CallbackResult is the validated form handed to reconciliation.
type CallbackResult struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            *int64
	PhoneNumber       string
	Receipt           string
}

func (r CallbackResult) Success() bool {
	return r.ResultCode == 0
}

// Result flattens the envelope into a CallbackResult.
func (e *STKCallbackEnvelope) Result() CallbackResult {
	cb := e.Body.StkCallback
	res := CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	if cb.CallbackMetadata == nil {
		return res
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := numericValue(item.Value); ok {
				res.Amount = &v
			}
		case "PhoneNumber":
			res.PhoneNumber = stringValue(item.Value)
		case "MpesaReceiptNumber":
			res.Receipt = stringValue(item.Value)
		}
	}
	return res
}

func numericValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// phone numbers come through as JSON numbers
		return strconv.FormatInt(int64(s), 10)
	}
	return ""
}
