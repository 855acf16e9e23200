package douyin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig holds the metadata API endpoints and credentials.
type ClientConfig struct {
	IDAPIURL  string
	URLAPIURL string
	AuthKey   string
	// Timeout is the request timeout in seconds.
	Timeout int
}

func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.IDAPIURL) == "" {
		return fmt.Errorf("id api url is required")
	}
	if strings.TrimSpace(c.URLAPIURL) == "" {
		return fmt.Errorf("share url api url is required")
	}
	if strings.TrimSpace(c.AuthKey) == "" {
		return fmt.Errorf("auth key is required")
	}
	return nil
}

// Client is the metadata API client. Thread-safe for concurrent use.
type Client struct {
	cfg        ClientConfig
	authHeader string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60
	}

	authHeader := cfg.AuthKey
	if !strings.HasPrefix(authHeader, "Bearer ") {
		authHeader = "Bearer " + authHeader
	}

	return &Client{
		cfg:        cfg,
		authHeader: authHeader,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}, nil
}

// FetchDetail requests the metadata document for req. It returns the parsed
// envelope together with the raw body so callers can persist the document
// byte-for-byte. Network failures and non-success envelopes become a
// FetchError.
func (c *Client) FetchDetail(ctx context.Context, req Request) (*Envelope, []byte, error) {
	endpoint, params := c.endpointFor(req)

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, &FetchError{Message: "invalid endpoint", Err: err}
	}
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, &FetchError{Message: "build request", Err: err}
	}
	httpReq.Header.Set("accept", "application/json")
	httpReq.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, &FetchError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &FetchError{Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &FetchError{Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, &FetchError{Message: "malformed response", Err: err}
	}
	if !envelope.OK() {
		msg := envelope.Message
		if msg == "" {
			msg = "api reported failure"
		}
		return nil, nil, &FetchError{Message: msg}
	}

	return &envelope, body, nil
}

func (c *Client) endpointFor(req Request) (string, url.Values) {
	params := url.Values{}
	if req.Kind == FetchByShareURL {
		params.Set("share_url", req.ShareURL)
		return c.cfg.URLAPIURL, params
	}
	params.Set("aweme_id", req.AwemeID)
	return c.cfg.IDAPIURL, params
}
