// Package grants applies access-control entries for a service principal.
//
// Two protocols exist: an ACL-patch call for serving endpoints and
// conversational spaces, and plain SQL GRANT statements for catalog objects.
// Grants are additive only; nothing in this workflow revokes.
package grants

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/ferrolab/agentgate/internal/platform/errors"
	"github.com/ferrolab/agentgate/internal/platform/timeouts"
)

// PermissionLevel is a fixed ACL permission constant per resource kind.
type PermissionLevel string

const (
	// PermissionCanQuery allows querying a serving endpoint.
	PermissionCanQuery PermissionLevel = "CAN_QUERY"
	// PermissionCanRun allows running a conversational space.
	PermissionCanRun PermissionLevel = "CAN_RUN"
)

// ACLClientConfig configures the permission-service client.
type ACLClientConfig struct {
	Host       string
	Token      string
	HTTPClient *http.Client
}

// ACLClient applies ACL entries through the permission service.
type ACLClient struct {
	cfg ACLClientConfig
}

// NewACLClient builds a permission-service client.
func NewACLClient(cfg ACLClientConfig) (*ACLClient, error) {
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: timeouts.UpstreamRequest}
	}
	return &ACLClient{cfg: cfg}, nil
}

// Patch adds one access-control entry on the resource at resourcePath (for
// example "serving-endpoints/123" or "genie/space-1"). The service merges the
// entry with existing ACLs; no local read-modify-merge is performed.
func (c *ACLClient) Patch(ctx context.Context, resourcePath string, principalApplicationID string, level PermissionLevel) error {
	resourcePath = strings.Trim(strings.TrimSpace(resourcePath), "/")
	if resourcePath == "" {
		return fmt.Errorf("resource path is required")
	}
	if strings.TrimSpace(principalApplicationID) == "" {
		return fmt.Errorf("principal application id is required")
	}

	requestBody, err := json.Marshal(map[string]any{
		"access_control_list": []map[string]any{
			{
				"service_principal_name": principalApplicationID,
				"permission_level":       string(level),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal acl request: %w", err)
	}

	endpoint := c.cfg.Host + "/api/2.0/permissions/" + resourcePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("build acl request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeGrantACLFailed, "patch acl on "+resourcePath, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("read acl error body: %w", readErr)
		}
		return apperrors.New(apperrors.CodeGrantACLFailed,
			fmt.Sprintf("patch acl on %s status %d: %s", resourcePath, res.StatusCode, strings.TrimSpace(string(body))))
	}
	return nil
}
