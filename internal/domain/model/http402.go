package model

import "time"

// Headers a client sends when retrying a paid request.
const (
	HeaderPaymentID         = "X-Payment-Id"
	HeaderPaymentChain      = "X-Payment-Chain"
	HeaderPaymentSettlement = "X-Payment-Settlement"
	HeaderPaymentVerified   = "X-Payment-Verified"
	HeaderAccessToken       = "X-Access-Token"
)

// RetryInstructions tell the client how to replay the request after paying.
type RetryInstructions struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Http402Response is the payment required envelope.
type Http402Response struct {
	Status            int               `json:"status"`
	Message           string            `json:"message"`
	PaymentOptions    []PaymentOption   `json:"paymentOptions"`
	PaymentID         string            `json:"paymentId"`
	ExpiresAt         time.Time         `json:"expiresAt"`
	RetryAfterPayment RetryInstructions `json:"retryAfterPayment"`
}

// RequestMetadata describes the request being gated.
type RequestMetadata struct {
	Method     string
	URL        string
	ClientKey  string
	Attributes map[string]string
}

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}
