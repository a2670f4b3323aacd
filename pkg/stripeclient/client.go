/**
 * @description
 * This package provides a client for the Stripe API surface the ledger service
 * uses: payment intents for collecting the registration fee, bank account
 * tokens for tokenizing payout destinations, and payouts for settling
 * withdrawals. Requests are form-encoded per Stripe's API conventions and
 * authenticated with a bearer secret key.
 *
 * @dependencies
 * - context, fmt, net/http, net/url, strings, time: Standard Go libraries.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the Stripe API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Stripe API client.
func NewClient(baseURL, secretKey string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PaymentIntent is the subset of Stripe's PaymentIntent object the service reads.
type PaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // e.g. 'requires_payment_method', 'succeeded'
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret"`
}

// Token is a tokenized bank account destination.
type Token struct {
	ID string `json:"id"`
}

// Payout is the subset of Stripe's Payout object the service reads.
type Payout struct {
	ID             string `json:"id"`
	Status         string `json:"status"` // e.g. 'pending', 'paid', 'failed'
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	FailureMessage string `json:"failure_message"`
}

// BankAccountParams describes an external bank account to tokenize.
type BankAccountParams struct {
	Country           string
	Currency          string
	AccountHolderName string
	RoutingNumber     string // sort code for GB accounts
	AccountNumber     string
}

// PayoutParams describes an outbound payout.
type PayoutParams struct {
	Amount      int64 // minor units
	Currency    string
	Destination string
	Metadata    map[string]string
}

// ErrorResponse represents an error returned by the Stripe API.
type ErrorResponse struct {
	Err struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Err.Message != "" {
		return fmt.Sprintf("stripe api error: %s - %s", e.Err.Type, e.Err.Message)
	}
	return "unknown stripe api error"
}

// CreatePaymentIntent creates a payment intent for the registration fee.
// Amount is in minor units.
func (c *Client) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	var intent PaymentIntent
	if err := c.do(ctx, "POST", "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetPaymentIntent retrieves a payment intent so its status can be verified
// server-side before an account is created.
func (c *Client) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, "GET", "/v1/payment_intents/"+url.PathEscape(paymentIntentID), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreateBankAccountToken tokenizes a payout destination. Raw account details
// never touch the database; only the resulting token is used.
func (c *Client) CreateBankAccountToken(ctx context.Context, params BankAccountParams) (*Token, error) {
	form := url.Values{}
	form.Set("bank_account[country]", params.Country)
	form.Set("bank_account[currency]", params.Currency)
	form.Set("bank_account[account_holder_name]", params.AccountHolderName)
	form.Set("bank_account[account_holder_type]", "individual")
	form.Set("bank_account[routing_number]", params.RoutingNumber)
	form.Set("bank_account[account_number]", params.AccountNumber)

	var token Token
	if err := c.do(ctx, "POST", "/v1/tokens", form, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// CreatePayout initiates an outbound payout.
func (c *Client) CreatePayout(ctx context.Context, params PayoutParams) (*Payout, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", params.Currency)
	if params.Destination != "" {
		form.Set("destination", params.Destination)
	}
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var payout Payout
	if err := c.do(ctx, "POST", "/v1/payouts", form, &payout); err != nil {
		return nil, err
	}
	return &payout, nil
}

// do executes one form-encoded Stripe API call and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create stripe request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute stripe request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=stripe_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=stripe_client op=%s status=%d type=%q message=%q", path, resp.StatusCode, errResp.Err.Type, errResp.Err.Message)
		return &errResp
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response: %w", err)
	}
	return nil
}
