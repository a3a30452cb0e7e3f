package mappings

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ferrolab/agentgate/internal/services/gateway/sqlexec"
)

type fakeExecutor struct {
	statements []string
	results    []sqlexec.Result
	err        error
}

func (f *fakeExecutor) Execute(_ context.Context, statement string) (sqlexec.Result, error) {
	f.statements = append(f.statements, statement)
	if f.err != nil {
		return sqlexec.Result{}, f.err
	}
	if len(f.results) == 0 {
		return sqlexec.Result{State: sqlexec.StateSucceeded}, nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result, nil
}

func TestLookupPrincipalFound(t *testing.T) {
	executor := &fakeExecutor{results: []sqlexec.Result{
		{State: sqlexec.StateSucceeded, DataArray: [][]string{{"app-1"}}},
	}}
	store, err := NewStore(executor, "main.identity.user_principals", "main.identity.principal_clients")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	applicationID, found, err := store.LookupPrincipal(context.Background(), "alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found || applicationID != "app-1" {
		t.Fatalf("expected app-1 found, got %q found=%v", applicationID, found)
	}

	statement := executor.statements[0]
	if !strings.Contains(statement, "`main`.`identity`.`user_principals`") {
		t.Fatalf("expected quoted table in %q", statement)
	}
	if !strings.Contains(statement, "WHERE username = 'alice'") {
		t.Fatalf("expected exact-match predicate in %q", statement)
	}
}

func TestLookupPrincipalAbsent(t *testing.T) {
	executor := &fakeExecutor{results: []sqlexec.Result{{State: sqlexec.StateSucceeded}}}
	store, _ := NewStore(executor, "t1", "t2")

	_, found, err := store.LookupPrincipal(context.Background(), "bob")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found {
		t.Fatal("expected absent mapping")
	}
}

func TestInsertPrincipalEscapesLiterals(t *testing.T) {
	executor := &fakeExecutor{}
	store, _ := NewStore(executor, "t1", "t2")

	if err := store.InsertPrincipal(context.Background(), "o'brien", "app-9"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	statement := executor.statements[0]
	if !strings.Contains(statement, "'o''brien'") {
		t.Fatalf("expected escaped literal in %q", statement)
	}
	if !strings.Contains(statement, "'app-9'") {
		t.Fatalf("expected application id literal in %q", statement)
	}
}

func TestUpsertClientMappingUsesPrincipalIDKey(t *testing.T) {
	executor := &fakeExecutor{}
	store, _ := NewStore(executor, "t1", "main.identity.principal_clients")

	if err := store.UpsertClientMapping(context.Background(), "app-1", "acme-42"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	statement := executor.statements[0]
	if !strings.HasPrefix(statement, "MERGE INTO `main`.`identity`.`principal_clients`") {
		t.Fatalf("expected MERGE statement, got %q", statement)
	}
	if !strings.Contains(statement, "ON target.principal_id = source.principal_id") {
		t.Fatalf("expected principal_id key in %q", statement)
	}
	if !strings.Contains(statement, "UPDATE SET target.client_id = source.client_id") {
		t.Fatalf("expected last-write-wins update in %q", statement)
	}
}

func TestExecutionFailurePropagates(t *testing.T) {
	failure := errors.New("SQL execution failed: boom")
	executor := &fakeExecutor{err: failure}
	store, _ := NewStore(executor, "t1", "t2")

	if err := store.InsertPrincipal(context.Background(), "alice", "app-1"); !errors.Is(err, failure) {
		t.Fatalf("expected wrapped executor failure, got %v", err)
	}
	if _, _, err := store.LookupPrincipal(context.Background(), "alice"); !errors.Is(err, failure) {
		t.Fatalf("expected wrapped executor failure, got %v", err)
	}
	if err := store.UpsertClientMapping(context.Background(), "app-1", "c"); !errors.Is(err, failure) {
		t.Fatalf("expected wrapped executor failure, got %v", err)
	}
}
