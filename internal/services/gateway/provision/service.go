// Package provision implements the idempotent bind-user-to-client workflow.
//
// Bind composes the identity directory, the mapping store, both grant
// protocols, and credential minting into one operation that is safe to re-run
// from the top after any failure: the principal insert is guarded by a lookup,
// the client mapping is an upsert, and grants are additive. There is no
// rollback; partial state converges on the next invocation.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/ferrolab/agentgate/internal/platform/errors"
	"github.com/ferrolab/agentgate/internal/services/gateway/audit"
	"github.com/ferrolab/agentgate/internal/services/gateway/clientcache"
	"github.com/ferrolab/agentgate/internal/services/gateway/grants"
	"github.com/ferrolab/agentgate/internal/services/gateway/principal"
	"github.com/ferrolab/agentgate/internal/services/gateway/serving"
)

// Directory lists and creates service principals and mints their secrets.
type Directory interface {
	List(ctx context.Context, filter string) ([]principal.ServicePrincipal, error)
	Create(ctx context.Context, displayName string, active bool) (principal.ServicePrincipal, error)
	CreateSecret(ctx context.Context, numericID string) (string, error)
}

// MappingStore persists the user→principal and principal→client relations.
type MappingStore interface {
	LookupPrincipal(ctx context.Context, username string) (applicationID string, found bool, err error)
	InsertPrincipal(ctx context.Context, username, applicationID string) error
	UpsertClientMapping(ctx context.Context, principalApplicationID, clientID string) error
}

// ACLPatcher applies one access-control entry on a permission resource.
type ACLPatcher interface {
	Patch(ctx context.Context, resourcePath, principalApplicationID string, level grants.PermissionLevel) error
}

// ReadGranter grants catalog read access through SQL GRANT statements.
type ReadGranter interface {
	GrantRead(ctx context.Context, object grants.CatalogObject, principalApplicationID string) error
}

// EndpointResolver resolves a serving endpoint's internal id by name.
type EndpointResolver interface {
	ResolveEndpointID(ctx context.Context, name string) (string, error)
}

// Config holds the resources a bind call grants access to.
type Config struct {
	// Host is the platform base URL used to build principal-bound clients.
	Host string
	// EndpointName is the serving endpoint the principal may query.
	EndpointName string
	// SpaceID is the conversational space the principal may run.
	SpaceID string
	// Object names the catalog/schema/table the principal may read.
	Object grants.CatalogObject
}

// Service runs the provisioning workflow.
type Service struct {
	cfg       Config
	directory Directory
	mappings  MappingStore
	acl       ACLPatcher
	sqlGrants ReadGranter
	resolver  EndpointResolver
	cache     *clientcache.Cache
	recorder  audit.Recorder

	clock func() time.Time
	// newPrincipalClient is injectable for tests; production builds an
	// OAuth client-credentials serving client.
	newPrincipalClient func(host, applicationID, secret string) (*serving.Client, error)

	// userLocks serializes concurrent binds for the same user so two calls
	// cannot race between "lookup absent" and "insert".
	userLocks sync.Map
}

// NewService builds a provisioning service. The recorder may be nil.
func NewService(cfg Config, directory Directory, mappings MappingStore, acl ACLPatcher, sqlGrants ReadGranter, resolver EndpointResolver, cache *clientcache.Cache, recorder audit.Recorder) (*Service, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if strings.TrimSpace(cfg.EndpointName) == "" {
		return nil, fmt.Errorf("endpoint name is required")
	}
	if strings.TrimSpace(cfg.SpaceID) == "" {
		return nil, fmt.Errorf("space id is required")
	}
	if strings.TrimSpace(cfg.Object.Catalog) == "" || strings.TrimSpace(cfg.Object.Schema) == "" || strings.TrimSpace(cfg.Object.Table) == "" {
		return nil, fmt.Errorf("catalog object is required")
	}
	if directory == nil || mappings == nil || acl == nil || sqlGrants == nil || resolver == nil {
		return nil, fmt.Errorf("all collaborators are required")
	}
	if cache == nil {
		return nil, fmt.Errorf("client cache is required")
	}
	return &Service{
		cfg:                cfg,
		directory:          directory,
		mappings:           mappings,
		acl:                acl,
		sqlGrants:          sqlGrants,
		resolver:           resolver,
		cache:              cache,
		recorder:           recorder,
		clock:              time.Now,
		newPrincipalClient: serving.NewPrincipalClient,
	}, nil
}

// Bind establishes a service principal for userID, maps it to clientID,
// grants it access, mints a credential, and caches an authenticated client.
// Safe to re-run after any failure.
func (s *Service) Bind(ctx context.Context, userID, clientID string) (string, error) {
	input, err := principal.NormalizeBindInput(principal.BindInput{UserID: userID, ClientID: clientID})
	if err != nil {
		code := apperrors.CodeValidationUserIDEmpty
		if errors.Is(err, principal.ErrEmptyClientID) {
			code = apperrors.CodeValidationClientIDEmpty
		}
		return "", apperrors.Wrap(code, "Please provide both User ID and Client ID.", err)
	}

	lock := s.userLock(input.UserID)
	lock.Lock()
	defer lock.Unlock()

	status, err := s.bind(ctx, input)
	if err != nil {
		s.record(ctx, audit.Event{
			EventName:   audit.EventBindFailed,
			ActorUserID: input.UserID,
			ClientID:    input.ClientID,
			Outcome:     "failure",
			Detail:      err.Error(),
		})
		return "", err
	}
	return status, nil
}

func (s *Service) bind(ctx context.Context, input principal.BindInput) (string, error) {
	sp, err := s.resolvePrincipal(ctx, input.UserID)
	if err != nil {
		return "", err
	}

	// Re-binding a known user to a new client updates the mapping without
	// creating a duplicate principal.
	if err := s.mappings.UpsertClientMapping(ctx, sp.ApplicationID, input.ClientID); err != nil {
		return "", err
	}

	endpointID, err := s.resolver.ResolveEndpointID(ctx, s.cfg.EndpointName)
	if err != nil {
		return "", err
	}
	if err := s.acl.Patch(ctx, "serving-endpoints/"+endpointID, sp.ApplicationID, grants.PermissionCanQuery); err != nil {
		return "", err
	}
	if err := s.acl.Patch(ctx, "genie/"+s.cfg.SpaceID, sp.ApplicationID, grants.PermissionCanRun); err != nil {
		return "", err
	}
	if err := s.sqlGrants.GrantRead(ctx, s.cfg.Object, sp.ApplicationID); err != nil {
		return "", err
	}

	// A fresh secret is minted on every bind; prior secrets are never reused.
	secret, err := s.directory.CreateSecret(ctx, sp.NumericID)
	if err != nil {
		return "", err
	}
	client, err := s.newPrincipalClient(s.cfg.Host, sp.ApplicationID, secret)
	if err != nil {
		return "", fmt.Errorf("build principal client: %w", err)
	}
	s.cache.Put(input.UserID, client)

	s.record(ctx, audit.Event{
		EventName:   audit.EventBindSucceeded,
		ActorUserID: input.UserID,
		PrincipalID: sp.ApplicationID,
		ClientID:    input.ClientID,
		Outcome:     "success",
	})
	return fmt.Sprintf("Credentials set for user '%s' (SP: %s) with client '%s'.",
		input.UserID, sp.ApplicationID, input.ClientID), nil
}

// resolvePrincipal finds or lazily creates the service principal for a user.
func (s *Service) resolvePrincipal(ctx context.Context, userID string) (principal.ServicePrincipal, error) {
	displayName := principal.DisplayName(userID)

	applicationID, found, err := s.mappings.LookupPrincipal(ctx, userID)
	if err != nil {
		return principal.ServicePrincipal{}, err
	}
	if found {
		// The mapping holds only the application id; the numeric id needed for
		// secret issuance is resolved from the directory by display name.
		listed, err := s.directory.List(ctx, fmt.Sprintf("displayName eq '%s'", displayName))
		if err != nil {
			return principal.ServicePrincipal{}, err
		}
		for _, candidate := range listed {
			if candidate.ApplicationID == applicationID {
				return candidate, nil
			}
		}
		return principal.ServicePrincipal{}, apperrors.WithMetadata(apperrors.CodeDirectoryListFailed,
			"mapped principal not found in directory", map[string]string{
				"user_id":        userID,
				"application_id": applicationID,
			})
	}

	created, err := s.directory.Create(ctx, displayName, true)
	if err != nil {
		return principal.ServicePrincipal{}, err
	}
	if err := s.mappings.InsertPrincipal(ctx, userID, created.ApplicationID); err != nil {
		return principal.ServicePrincipal{}, err
	}
	return created, nil
}

func (s *Service) userLock(userID string) *sync.Mutex {
	lock, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// record writes an audit event best-effort; provisioning outcomes never
// depend on the recorder.
func (s *Service) record(ctx context.Context, event audit.Event) {
	if s.recorder == nil {
		return
	}
	event.CreatedAt = s.clock().UTC()
	_ = s.recorder.PutEvent(ctx, event)
}
