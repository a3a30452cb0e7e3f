package grants

import (
	"context"
	"fmt"

	apperrors "github.com/ferrolab/agentgate/internal/platform/errors"
	"github.com/ferrolab/agentgate/internal/services/gateway/sqlexec"
)

// CatalogObject names the catalog, schema, and table a principal reads from.
type CatalogObject struct {
	Catalog string
	Schema  string
	Table   string
}

// SQLGrants issues catalog read grants through the statement executor.
type SQLGrants struct {
	executor sqlexec.Executor
}

// NewSQLGrants builds a SQL grant issuer.
func NewSQLGrants(executor sqlexec.Executor) (*SQLGrants, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	return &SQLGrants{executor: executor}, nil
}

// GrantRead grants the principal read access on the catalog, then its schema,
// then its table, in that order. Each grant is a separate statement; the
// catalog grant must precede the narrower ones.
func (g *SQLGrants) GrantRead(ctx context.Context, object CatalogObject, principalApplicationID string) error {
	grantee := sqlexec.QuoteIdent(principalApplicationID)
	statements := []string{
		fmt.Sprintf("GRANT USE CATALOG ON CATALOG %s TO %s",
			sqlexec.QuoteIdent(object.Catalog), grantee),
		fmt.Sprintf("GRANT USE SCHEMA ON SCHEMA %s TO %s",
			sqlexec.QuoteQualified(object.Catalog, object.Schema), grantee),
		fmt.Sprintf("GRANT SELECT ON TABLE %s TO %s",
			sqlexec.QuoteQualified(object.Catalog, object.Schema, object.Table), grantee),
	}
	for _, statement := range statements {
		if _, err := g.executor.Execute(ctx, statement); err != nil {
			return apperrors.Wrap(apperrors.CodeGrantSQLFailed, "grant read access", err)
		}
	}
	return nil
}
