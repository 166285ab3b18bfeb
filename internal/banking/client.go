package banking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"masarif/internal/core"
)

const timestampLayout = time.RFC3339

// Client talks to a Tarabut-style open-banking gateway. It authenticates
// with client credentials and caches the bearer token across calls.
type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu    sync.Mutex
	token string
}

type ClientConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// FetchTransactions returns the raw transaction batch for the account
// within the given booking window.
func (c *Client) FetchTransactions(ctx context.Context, accountID string, w core.Window) ([]RawTransaction, error) {
	q := url.Values{}
	q.Set("fromBookingDateTime", w.Start.UTC().Format(timestampLayout))
	q.Set("toBookingDateTime", w.End.UTC().Format(timestampLayout))

	endpoint := fmt.Sprintf("%s/accountInformation/v2/accounts/%s/transactions?%s",
		c.baseURL, url.PathEscape(accountID), q.Encode())

	var payload struct {
		Transactions []struct {
			TransactionID          string `json:"transactionId"`
			TransactionDescription string `json:"transactionDescription"`
			Amount                 struct {
				Value    json.Number `json:"value"`
				Currency string      `json:"currency"`
			} `json:"amount"`
			CreditDebitIndicator string `json:"creditDebitIndicator"`
			TransactionDateTime  string `json:"transactionDateTime"`
		} `json:"transactions"`
	}

	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("fetch transactions for account %s: %w", accountID, err)
	}

	raws := make([]RawTransaction, 0, len(payload.Transactions))
	for _, t := range payload.Transactions {
		raws = append(raws, RawTransaction{
			ExternalID:  t.TransactionID,
			Description: t.TransactionDescription,
			AmountValue: t.Amount.Value.String(),
			Currency:    t.Amount.Currency,
			CreditDebit: t.CreditDebitIndicator,
			Timestamp:   t.TransactionDateTime,
		})
	}
	return raws, nil
}

// FetchBalance returns the current balance for the account. The gateway
// reports a list; the first entry is the authoritative balance.
func (c *Client) FetchBalance(ctx context.Context, accountID string) (Balance, error) {
	endpoint := fmt.Sprintf("%s/accountInformation/v2/accounts/%s/balances",
		c.baseURL, url.PathEscape(accountID))

	var payload struct {
		Balances []struct {
			Amount struct {
				Value    json.Number `json:"value"`
				Currency string      `json:"currency"`
			} `json:"amount"`
			AvailableAmount struct {
				Value json.Number `json:"value"`
			} `json:"availableAmount"`
		} `json:"balances"`
	}

	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return Balance{}, fmt.Errorf("fetch balance for account %s: %w", accountID, err)
	}
	if len(payload.Balances) == 0 {
		return Balance{}, fmt.Errorf("fetch balance for account %s: empty balances list", accountID)
	}

	b := payload.Balances[0]
	return Balance{
		AmountValue:    b.Amount.Value.String(),
		AvailableValue: b.AvailableAmount.Value.String(),
		Currency:       b.Amount.Currency,
	}, nil
}

// getJSON performs an authenticated GET and decodes the response body.
// A 401 invalidates the cached token and retries once with a fresh one.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.authorizedGet(ctx, endpoint)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		c.invalidateToken()
		resp, err = c.authorizedGet(ctx, endpoint)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorizedGet(ctx context.Context, endpoint string) (*http.Response, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	return resp, nil
}

// accessToken returns the cached bearer token, fetching a new one with the
// client-credentials grant when none is cached.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
		"grantType":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	c.token = tokenResp.AccessToken
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
