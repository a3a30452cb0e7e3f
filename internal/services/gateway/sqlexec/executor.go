// Package sqlexec executes SQL statement text against the warehouse
// statement-execution service.
//
// Both the mapping store and the SQL-grant path render statements through the
// quoting helpers here and submit them through one Executor, so tests can
// observe every statement the gateway issues.
package sqlexec

import "context"

// StatementState is the service-reported execution state of a statement.
type StatementState string

const (
	// StateSucceeded indicates the statement completed.
	StateSucceeded StatementState = "SUCCEEDED"
	// StateFailed indicates the service reported a failed execution.
	StateFailed StatementState = "FAILED"
)

// Result holds the outcome of one statement execution.
type Result struct {
	State StatementState
	// ErrorMessage carries the service-reported failure message when State is
	// StateFailed.
	ErrorMessage string
	// DataArray holds row-major query results; empty for DML and grants.
	DataArray [][]string
}

// Executor runs one SQL statement to completion against the warehouse.
type Executor interface {
	Execute(ctx context.Context, statement string) (Result, error)
}
