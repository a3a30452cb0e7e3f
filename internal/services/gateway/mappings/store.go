// Package mappings persists the user→principal and principal→client relations.
//
// Rows live in warehouse tables reached through the shared statement executor;
// this package holds no state of its own. Both writes are shaped so that
// re-running a provisioning call converges: the principal insert is guarded by
// a prior lookup and the client mapping is a last-write-wins upsert.
package mappings

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferrolab/agentgate/internal/services/gateway/sqlexec"
)

// Store reads and writes identity mapping rows.
type Store struct {
	executor       sqlexec.Executor
	principalTable string
	clientTable    string
}

// NewStore builds a mapping store over the given executor and qualified table
// names (for example "main.identity.user_principals").
func NewStore(executor sqlexec.Executor, principalTable, clientTable string) (*Store, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	principalTable = strings.TrimSpace(principalTable)
	if principalTable == "" {
		return nil, fmt.Errorf("principal mapping table is required")
	}
	clientTable = strings.TrimSpace(clientTable)
	if clientTable == "" {
		return nil, fmt.Errorf("client mapping table is required")
	}
	return &Store{
		executor:       executor,
		principalTable: quoteTable(principalTable),
		clientTable:    quoteTable(clientTable),
	}, nil
}

// LookupPrincipal returns the application id mapped to username, or found=false
// when no row exists. Lookups are exact-match on username.
func (s *Store) LookupPrincipal(ctx context.Context, username string) (applicationID string, found bool, err error) {
	statement := fmt.Sprintf(
		"SELECT service_principal_id FROM %s WHERE username = %s",
		s.principalTable, sqlexec.QuoteLiteral(username),
	)
	result, err := s.executor.Execute(ctx, statement)
	if err != nil {
		return "", false, fmt.Errorf("lookup principal mapping: %w", err)
	}
	if len(result.DataArray) == 0 || len(result.DataArray[0]) == 0 {
		return "", false, nil
	}
	return result.DataArray[0][0], true, nil
}

// InsertPrincipal records a new user→principal mapping. Callers guard this
// with LookupPrincipal; at most one principal may exist per username.
func (s *Store) InsertPrincipal(ctx context.Context, username, applicationID string) error {
	statement := fmt.Sprintf(
		"INSERT INTO %s (username, service_principal_id) VALUES (%s, %s)",
		s.principalTable, sqlexec.QuoteLiteral(username), sqlexec.QuoteLiteral(applicationID),
	)
	if _, err := s.executor.Execute(ctx, statement); err != nil {
		return fmt.Errorf("insert principal mapping: %w", err)
	}
	return nil
}

// UpsertClientMapping binds a principal to a client, replacing any prior
// binding. Last write wins; no history is retained.
func (s *Store) UpsertClientMapping(ctx context.Context, principalApplicationID, clientID string) error {
	statement := fmt.Sprintf(
		"MERGE INTO %s AS target "+
			"USING (SELECT %s AS principal_id, %s AS client_id) AS source "+
			"ON target.principal_id = source.principal_id "+
			"WHEN MATCHED THEN UPDATE SET target.client_id = source.client_id "+
			"WHEN NOT MATCHED THEN INSERT (principal_id, client_id) VALUES (source.principal_id, source.client_id)",
		s.clientTable, sqlexec.QuoteLiteral(principalApplicationID), sqlexec.QuoteLiteral(clientID),
	)
	if _, err := s.executor.Execute(ctx, statement); err != nil {
		return fmt.Errorf("upsert client mapping: %w", err)
	}
	return nil
}

func quoteTable(qualified string) string {
	return sqlexec.QuoteQualified(strings.Split(qualified, ".")...)
}
