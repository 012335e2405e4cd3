// Package payment defines the payment-gateway capability consumed by the
// refund orchestrator. Calls are possibly-failing remote operations; the
// engine never retries them on its own.
package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Gateway is the capability contract for the external payment processor.
type Gateway interface {
	// Refund reverses amount against the original transaction. When
	// toCredits is set the amount is returned as account credits instead
	// of to the card.
	Refund(transactionID string, amount float64, invoiceID string, toCredits bool) (bool, error)
	// CreditBalance returns the user's current credit balance.
	CreditBalance(userID string) (float64, error)
}

// Client talks to the payment service over HTTP with an internal token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a payment client.
func NewClient(baseURL, internalToken string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   internalToken,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type refundRequest struct {
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	InvoiceID     string  `json:"invoiceId"`
	ToCredits     bool    `json:"toCredits"`
}

type refundResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Refund calls the payment service's refund endpoint.
func (c *Client) Refund(transactionID string, amount float64, invoiceID string, toCredits bool) (bool, error) {
	payload, err := json.Marshal(refundRequest{
		TransactionID: transactionID,
		Amount:        amount,
		InvoiceID:     invoiceID,
		ToCredits:     toCredits,
	})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/internal/refunds", bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("payment refund: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("payment refund: unexpected status %d", resp.StatusCode)
	}
	var body refundResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("payment refund: decode response: %w", err)
	}
	if !body.Success && body.Error != "" {
		return false, fmt.Errorf("payment refund: %s", body.Error)
	}
	return body.Success, nil
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// CreditBalance fetches a user's credit balance.
func (c *Client) CreditBalance(userID string) (float64, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/internal/credits/"+userID, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("payment credits: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("payment credits: unexpected status %d", resp.StatusCode)
	}
	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("payment credits: decode response: %w", err)
	}
	return body.Balance, nil
}
