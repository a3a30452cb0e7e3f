package sqlexec

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

const statementsPath = "/api/2.0/sql/statements"

// ClientConfig configures the statement-execution HTTP client.
type ClientConfig struct {
	// Host is the platform base URL.
	Host string
	// WarehouseID selects the warehouse every statement runs on.
	WarehouseID string
	// WaitTimeout is the bounded per-statement wait ceiling, in the service's
	// duration syntax (for example "30s"). Exceeding it surfaces as an
	// execution failure, never a silent retry.
	WaitTimeout string
	// Token authenticates the gateway's own identity; principal-scoped calls
	// never go through this client.
	Token      string
	HTTPClient *http.Client
}

// Client executes statements over the warehouse statement-execution API.
type Client struct {
	cfg ClientConfig
}

// NewClient builds a statement-execution client.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	cfg.WarehouseID = strings.TrimSpace(cfg.WarehouseID)
	if cfg.WarehouseID == "" {
		return nil, fmt.Errorf("warehouse id is required")
	}
	if strings.TrimSpace(cfg.WaitTimeout) == "" {
		cfg.WaitTimeout = "30s"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: timeouts.UpstreamRequest}
	}
	return &Client{cfg: cfg}, nil
}

// Execute submits one statement and returns the service-reported result.
// A FAILED state is returned as a SQL_EXECUTION_FAILED domain error carrying
// the service message.
func (c *Client) Execute(ctx context.Context, statement string) (Result, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return Result{}, fmt.Errorf("statement is required")
	}

	requestBody, err := json.Marshal(map[string]any{
		"warehouse_id": c.cfg.WarehouseID,
		"statement":    statement,
		"wait_timeout": c.cfg.WaitTimeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal statement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+statementsPath, bytes.NewReader(requestBody))
	if err != nil {
		return Result{}, fmt.Errorf("build statement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeSQLExecutionFailed, "statement request failed", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return Result{}, fmt.Errorf("read statement error body: %w", readErr)
		}
		return Result{}, apperrors.New(apperrors.CodeSQLExecutionFailed,
			fmt.Sprintf("statement request status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload struct {
		Status struct {
			State string `json:"state"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"status"`
		Result struct {
			DataArray [][]string `json:"data_array"`
		} `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode statement response: %w", err)
	}

	result := Result{
		State:        StatementState(payload.Status.State),
		ErrorMessage: payload.Status.Error.Message,
		DataArray:    payload.Result.DataArray,
	}
	if result.State == StateFailed {
		return Result{}, apperrors.New(apperrors.CodeSQLExecutionFailed,
			"SQL execution failed: "+result.ErrorMessage)
	}
	return result, nil
}
