// Package vaults talks to the external vault adapter that values locked
// vault positions. The engine treats vaults as opaque: it only needs a
// position's worth in the reference denom and the vault's risk config.
package vaults

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// Client is the REST client for the vault adapter service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a vault adapter client.
//
// baseURL is the adapter root, e.g. "http://vault-adapter:8100".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

var _ domain.VaultReporter = (*Client)(nil)

// VaultValue returns the current worth of pos in the reference denom.
func (c *Client) VaultValue(ctx context.Context, vaultID string, pos domain.VaultPosition) (domain.Coin, error) {
	params := url.Values{}
	params.Set("account", pos.Account)
	params.Set("amount", pos.Amount.String())
	path := fmt.Sprintf("/vaults/%s/value?%s", url.PathEscape(vaultID), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.Coin{}, fmt.Errorf("vaults: value %s: %w", vaultID, err)
	}

	var coin domain.Coin
	if err := json.Unmarshal(body, &coin); err != nil {
		return domain.Coin{}, fmt.Errorf("vaults: decode value %s: %w", vaultID, err)
	}
	return coin, nil
}

// VaultConfig returns the vault's risk configuration.
func (c *Client) VaultConfig(ctx context.Context, vaultID string) (domain.VaultConfig, error) {
	path := fmt.Sprintf("/vaults/%s/config", url.PathEscape(vaultID))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.VaultConfig{}, fmt.Errorf("vaults: config %s: %w", vaultID, err)
	}

	var cfg domain.VaultConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return domain.VaultConfig{}, fmt.Errorf("vaults: decode config %s: %w", vaultID, err)
	}
	return cfg, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// NoopReporter is used when no vault adapter is configured. Every vault
// reads as non-whitelisted, so vault positions contribute nothing to
// borrowing power and never block a health computation.
type NoopReporter struct{}

var _ domain.VaultReporter = NoopReporter{}

func (NoopReporter) VaultValue(_ context.Context, _ string, pos domain.VaultPosition) (domain.Coin, error) {
	return domain.Coin{}, nil
}

func (NoopReporter) VaultConfig(_ context.Context, vaultID string) (domain.VaultConfig, error) {
	return domain.VaultConfig{VaultID: vaultID, Whitelisted: false}, nil
}
