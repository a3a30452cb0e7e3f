// Package directory is the HTTP client for the external identity directory.
//
// The directory exposes SCIM-style service-principal listing/creation and a
// separate credential-secret issuance endpoint keyed by the principal's
// numeric id.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/ferrolab/agentgate/internal/platform/errors"
	"github.com/ferrolab/agentgate/internal/platform/timeouts"
	"github.com/ferrolab/agentgate/internal/services/gateway/principal"
)

const (
	servicePrincipalsPath = "/api/2.0/preview/scim/v2/ServicePrincipals"
	secretsPathFormat     = "/api/2.0/accounts/servicePrincipals/%s/credentials/secrets"
)

// ClientConfig configures the identity directory client.
type ClientConfig struct {
	Host string
	// Token authenticates the gateway's own identity against the directory.
	Token      string
	HTTPClient *http.Client
}

// Client calls the identity directory service.
type Client struct {
	cfg ClientConfig
}

// NewClient builds an identity directory client.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: timeouts.UpstreamRequest}
	}
	return &Client{cfg: cfg}, nil
}

type principalResource struct {
	ID            string `json:"id"`
	ApplicationID string `json:"applicationId"`
	DisplayName   string `json:"displayName"`
	Active        bool   `json:"active"`
}

func (r principalResource) toDomain() principal.ServicePrincipal {
	return principal.ServicePrincipal{
		ApplicationID: r.ApplicationID,
		NumericID:     r.ID,
		DisplayName:   r.DisplayName,
		Active:        r.Active,
	}
}

// List returns the service principals matching a directory filter expression,
// for example `displayName eq 'sp-alice'`.
func (c *Client) List(ctx context.Context, filter string) ([]principal.ServicePrincipal, error) {
	endpoint := c.cfg.Host + servicePrincipalsPath
	if strings.TrimSpace(filter) != "" {
		endpoint += "?filter=" + url.QueryEscape(filter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	c.authorize(req)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDirectoryListFailed, "list service principals", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res, apperrors.CodeDirectoryListFailed, "list service principals"); err != nil {
		return nil, err
	}

	var payload struct {
		Resources []principalResource `json:"Resources"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDirectoryListFailed, "decode list response", err)
	}

	principals := make([]principal.ServicePrincipal, 0, len(payload.Resources))
	for _, resource := range payload.Resources {
		principals = append(principals, resource.toDomain())
	}
	return principals, nil
}

// Create registers a new service principal with the given display name.
func (c *Client) Create(ctx context.Context, displayName string, active bool) (principal.ServicePrincipal, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return principal.ServicePrincipal{}, fmt.Errorf("display name is required")
	}

	requestBody, err := json.Marshal(map[string]any{
		"displayName": displayName,
		"active":      active,
	})
	if err != nil {
		return principal.ServicePrincipal{}, fmt.Errorf("marshal create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+servicePrincipalsPath, bytes.NewReader(requestBody))
	if err != nil {
		return principal.ServicePrincipal{}, fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return principal.ServicePrincipal{}, apperrors.Wrap(apperrors.CodeDirectoryCreateFailed, "create service principal", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res, apperrors.CodeDirectoryCreateFailed, "create service principal"); err != nil {
		return principal.ServicePrincipal{}, err
	}

	var resource principalResource
	if err := json.NewDecoder(res.Body).Decode(&resource); err != nil {
		return principal.ServicePrincipal{}, apperrors.Wrap(apperrors.CodeDirectoryCreateFailed, "decode create response", err)
	}
	return resource.toDomain(), nil
}

// CreateSecret mints a fresh OAuth client secret for the principal identified
// by its numeric id. The secret is returned once and never retrievable again.
func (c *Client) CreateSecret(ctx context.Context, numericID string) (string, error) {
	numericID = strings.TrimSpace(numericID)
	if numericID == "" {
		return "", fmt.Errorf("numeric id is required")
	}

	endpoint := c.cfg.Host + fmt.Sprintf(secretsPathFormat, url.PathEscape(numericID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build secret request: %w", err)
	}
	c.authorize(req)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeDirectorySecretFailed, "issue credential secret", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res, apperrors.CodeDirectorySecretFailed, "issue credential secret"); err != nil {
		return "", err
	}

	var payload struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", apperrors.Wrap(apperrors.CodeDirectorySecretFailed, "decode secret response", err)
	}
	if strings.TrimSpace(payload.Secret) == "" {
		return "", apperrors.New(apperrors.CodeDirectorySecretFailed, "directory returned empty secret")
	}
	return payload.Secret, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func checkStatus(res *http.Response, code apperrors.Code, operation string) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
	if err != nil {
		return fmt.Errorf("read %s error body: %w", operation, err)
	}
	return apperrors.New(code,
		fmt.Sprintf("%s status %d: %s", operation, res.StatusCode, strings.TrimSpace(string(body))))
}
