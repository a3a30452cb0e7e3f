// Package serving calls the agent-serving endpoint.
//
// A Client is either the gateway's default identity or a principal-bound
// identity built from a minted OAuth secret; the request router picks one per
// chat turn.
package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	apperrors "github.com/ferrolab/agentgate/internal/platform/errors"
)

const tokenPath = "/oidc/v1/token"

// Message is one role/content turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClientConfig configures a serving-endpoint client.
type ClientConfig struct {
	Host string
	// Token authenticates requests when set; leave empty for an
	// unauthenticated default client.
	Token      string
	HTTPClient *http.Client
}

// Client issues requests against the model-serving API.
type Client struct {
	host       string
	token      string
	httpClient *http.Client
}

// NewClient builds a serving client for the gateway's own identity.
func NewClient(cfg ClientConfig) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{host: host, token: cfg.Token, httpClient: httpClient}, nil
}

// NewPrincipalClient builds a serving client authenticated as a service
// principal via the OAuth client-credentials flow. The principal's application
// id is the OAuth client id; the minted secret is held only inside the token
// source and is never persisted.
func NewPrincipalClient(host, applicationID, secret string) (*Client, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if strings.TrimSpace(applicationID) == "" {
		return nil, fmt.Errorf("application id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("secret is required")
	}

	oauthConfig := &clientcredentials.Config{
		ClientID:     applicationID,
		ClientSecret: secret,
		TokenURL:     host + tokenPath,
		Scopes:       []string{"all-apis"},
	}
	return &Client{
		host:       host,
		httpClient: oauthConfig.Client(context.Background()),
	}, nil
}

// ResolveEndpointID resolves a serving endpoint's internal id by name. The
// permission service addresses endpoints by this id, not by name.
func (c *Client) ResolveEndpointID(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("endpoint name is required")
	}

	endpoint := c.host + "/api/2.0/serving-endpoints/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build endpoint request: %w", err)
	}
	c.authorize(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeEndpointResolveFailed, "resolve endpoint "+name, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return "", fmt.Errorf("read endpoint error body: %w", readErr)
		}
		return "", apperrors.New(apperrors.CodeEndpointResolveFailed,
			fmt.Sprintf("resolve endpoint %s status %d: %s", name, res.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", apperrors.Wrap(apperrors.CodeEndpointResolveFailed, "decode endpoint response", err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return "", apperrors.New(apperrors.CodeEndpointResolveFailed, "endpoint response missing id")
	}
	return payload.ID, nil
}

// Invoke posts the message list to the endpoint's invocation path and returns
// the raw decoded response object.
func (c *Client) Invoke(ctx context.Context, endpointName string, messages []Message) (map[string]any, error) {
	endpointName = strings.TrimSpace(endpointName)
	if endpointName == "" {
		return nil, fmt.Errorf("endpoint name is required")
	}

	requestBody, err := json.Marshal(map[string]any{"input": messages})
	if err != nil {
		return nil, fmt.Errorf("marshal invocation request: %w", err)
	}

	endpoint := c.host + "/serving-endpoints/" + url.PathEscape(endpointName) + "/invocations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("build invocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransportUnreachable, "invoke endpoint "+endpointName, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return nil, fmt.Errorf("read invocation error body: %w", readErr)
		}
		return nil, apperrors.New(apperrors.CodeTransportBadResponse,
			fmt.Sprintf("invoke endpoint %s status %d: %s", endpointName, res.StatusCode, strings.TrimSpace(string(body))))
	}

	var raw map[string]any
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransportBadResponse, "decode invocation response", err)
	}
	return raw, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
