// Package chainclient submits mint settlements to the chain gateway.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
)

const defaultTimeout = 10 * time.Second

// ErrNotConfigured is returned when no gateway URL is set.
var ErrNotConfigured = errors.New("chain gateway is not configured")

// Client represents the chain gateway HTTP client.
type Client struct {
	baseURL string
	token   string
	ua      string
	http    *http.Client
}

// MintPayload is the body of POST {base}/mints.
type MintPayload struct {
	Reference     string          `json:"reference"`
	WalletAddress string          `json:"wallet_address"`
	TokenType     string          `json:"token_type"`
	Amount        decimal.Decimal `json:"amount"`
}

type mintResponse struct {
	TxHash string `json:"tx_hash"`
}

// NewClient creates a new chain gateway client.
func NewClient(baseURL, token string, timeout time.Duration, ua string) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		ua:      ua,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Configured reports whether a gateway URL is set.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.baseURL) != ""
}

// SubmitMint asks the gateway to mint amount to address and returns the chain tx hash.
// The reference lets the gateway deduplicate retries.
func (c *Client) SubmitMint(ctx context.Context, p MintPayload) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("chain mint request error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mints", bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("chain mint request error: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.Reference)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return "", fmt.Errorf("chain mint http error: status=%d body=<failed to read body: %v>", resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("chain mint http error: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("chain mint decode error: %w", err)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("chain mint http error: status=%d without tx_hash", resp.StatusCode)
	}
	return out.TxHash, nil
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("chain mint timeout: %w", err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("chain mint network error: %w", err)
	}
	return fmt.Errorf("chain mint request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
