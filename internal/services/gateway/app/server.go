// Package server wires the gateway's collaborators and hosts its HTTP and
// health surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ferrolab/agentgate/internal/platform/config"
	"github.com/ferrolab/agentgate/internal/platform/timeouts"
	"github.com/ferrolab/agentgate/internal/services/gateway/audit"
	auditsqlite "github.com/ferrolab/agentgate/internal/services/gateway/audit/sqlite"
	"github.com/ferrolab/agentgate/internal/services/gateway/clientcache"
	"github.com/ferrolab/agentgate/internal/services/gateway/directory"
	"github.com/ferrolab/agentgate/internal/services/gateway/grants"
	"github.com/ferrolab/agentgate/internal/services/gateway/mappings"
	"github.com/ferrolab/agentgate/internal/services/gateway/provision"
	"github.com/ferrolab/agentgate/internal/services/gateway/router"
	"github.com/ferrolab/agentgate/internal/services/gateway/serving"
	"github.com/ferrolab/agentgate/internal/services/gateway/sqlexec"
	"github.com/ferrolab/agentgate/internal/services/gateway/usergrant"
)

// serverEnv holds env-parsed configuration for the gateway server.
type serverEnv struct {
	Host     string `env:"AGENTGATE_HOST"`
	APIToken string `env:"AGENTGATE_API_TOKEN"`

	WarehouseID    string `env:"AGENTGATE_WAREHOUSE_ID"`
	SQLWaitTimeout string `env:"AGENTGATE_SQL_WAIT_TIMEOUT" envDefault:"30s"`

	EndpointName string `env:"AGENTGATE_ENDPOINT_NAME"`
	SpaceID      string `env:"AGENTGATE_SPACE_ID"`

	Catalog string `env:"AGENTGATE_CATALOG"`
	Schema  string `env:"AGENTGATE_SCHEMA"`
	Table   string `env:"AGENTGATE_TABLE"`

	PrincipalTable string `env:"AGENTGATE_PRINCIPAL_MAPPING_TABLE"`
	ClientTable    string `env:"AGENTGATE_CLIENT_MAPPING_TABLE"`

	AuditDBPath string `env:"AGENTGATE_AUDIT_DB_PATH"`
}

func loadServerEnv() (serverEnv, error) {
	var cfg serverEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return serverEnv{}, err
	}

	required := map[string]string{
		"AGENTGATE_HOST":                    cfg.Host,
		"AGENTGATE_API_TOKEN":               cfg.APIToken,
		"AGENTGATE_WAREHOUSE_ID":            cfg.WarehouseID,
		"AGENTGATE_ENDPOINT_NAME":           cfg.EndpointName,
		"AGENTGATE_SPACE_ID":                cfg.SpaceID,
		"AGENTGATE_CATALOG":                 cfg.Catalog,
		"AGENTGATE_SCHEMA":                  cfg.Schema,
		"AGENTGATE_TABLE":                   cfg.Table,
		"AGENTGATE_PRINCIPAL_MAPPING_TABLE": cfg.PrincipalTable,
		"AGENTGATE_CLIENT_MAPPING_TABLE":    cfg.ClientTable,
	}
	missing := make([]string, 0, len(required))
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		// Missing required values are a startup error, never a runtime one.
		sort.Strings(missing)
		return serverEnv{}, fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// Config defines listener addresses for the gateway server.
type Config struct {
	HTTPAddr   string
	HealthAddr string
}

// Server hosts the gateway HTTP surface plus a gRPC health endpoint.
type Server struct {
	httpListener   net.Listener
	healthListener net.Listener
	httpServer     *http.Server
	grpcServer     *grpc.Server
	health         *health.Server
	store          *auditsqlite.Store
	closeOnce      sync.Once
}

// New creates a configured gateway server listening on the provided
// addresses.
func New(cfg Config) (*Server, error) {
	srvEnv, err := loadServerEnv()
	if err != nil {
		return nil, err
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	healthListener, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		_ = httpListener.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HealthAddr, err)
	}

	var store *auditsqlite.Store
	var recorder audit.Recorder
	if path := strings.TrimSpace(srvEnv.AuditDBPath); path != "" {
		store, err = openAuditStore(path)
		if err != nil {
			_ = httpListener.Close()
			_ = healthListener.Close()
			return nil, err
		}
		recorder = store
	}

	handler, err := buildHandler(srvEnv, recorder)
	if err != nil {
		_ = httpListener.Close()
		_ = healthListener.Close()
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("agentgate.Gateway", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		httpListener:   httpListener,
		healthListener: healthListener,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
	}, nil
}

// buildHandler assembles the full collaborator graph behind the HTTP surface.
func buildHandler(srvEnv serverEnv, recorder audit.Recorder) (http.Handler, error) {
	executor, err := sqlexec.NewClient(sqlexec.ClientConfig{
		Host:        srvEnv.Host,
		WarehouseID: srvEnv.WarehouseID,
		WaitTimeout: srvEnv.SQLWaitTimeout,
		Token:       srvEnv.APIToken,
	})
	if err != nil {
		return nil, fmt.Errorf("build sql executor: %w", err)
	}
	dir, err := directory.NewClient(directory.ClientConfig{Host: srvEnv.Host, Token: srvEnv.APIToken})
	if err != nil {
		return nil, fmt.Errorf("build directory client: %w", err)
	}
	store, err := mappings.NewStore(executor, srvEnv.PrincipalTable, srvEnv.ClientTable)
	if err != nil {
		return nil, fmt.Errorf("build mapping store: %w", err)
	}
	acl, err := grants.NewACLClient(grants.ACLClientConfig{Host: srvEnv.Host, Token: srvEnv.APIToken})
	if err != nil {
		return nil, fmt.Errorf("build acl client: %w", err)
	}
	sqlGrants, err := grants.NewSQLGrants(executor)
	if err != nil {
		return nil, fmt.Errorf("build sql grants: %w", err)
	}
	defaultClient, err := serving.NewClient(serving.ClientConfig{Host: srvEnv.Host, Token: srvEnv.APIToken})
	if err != nil {
		return nil, fmt.Errorf("build serving client: %w", err)
	}

	cache := clientcache.New()
	provisioner, err := provision.NewService(provision.Config{
		Host:         srvEnv.Host,
		EndpointName: srvEnv.EndpointName,
		SpaceID:      srvEnv.SpaceID,
		Object: grants.CatalogObject{
			Catalog: srvEnv.Catalog,
			Schema:  srvEnv.Schema,
			Table:   srvEnv.Table,
		},
	}, dir, store, acl, sqlGrants, defaultClient, cache, recorder)
	if err != nil {
		return nil, fmt.Errorf("build provisioning service: %w", err)
	}
	chatRouter, err := router.New(cache, defaultClient, srvEnv.EndpointName, recorder)
	if err != nil {
		return nil, fmt.Errorf("build chat router: %w", err)
	}

	grantCfg, grantEnabled, err := usergrant.LoadConfigFromEnv(nil)
	if err != nil {
		return nil, fmt.Errorf("load user grant config: %w", err)
	}
	if !grantEnabled {
		log.Printf("user grant verification disabled; requests are trusted as-is")
	}

	return newHandler(handlerDeps{
		provisioner:  provisioner,
		router:       chatRouter,
		recorder:     recorder,
		grantConfig:  grantCfg,
		grantEnabled: grantEnabled,
	}), nil
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// HealthAddr returns the gRPC health listener address.
func (s *Server) HealthAddr() string {
	if s == nil || s.healthListener == nil {
		return ""
	}
	return s.healthListener.Addr().String()
}

// Run creates and serves a gateway until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gateway and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("gateway listening at %v (health %v)", s.httpListener.Addr(), s.healthListener.Addr())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := s.httpServer.Serve(s.httpListener)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	})
	group.Go(func() error {
		err := s.grpcServer.Serve(s.healthListener)
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve health: %w", err)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		if s.health != nil {
			s.health.Shutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		s.grpcServer.GracefulStop()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.health != nil {
			s.health.Shutdown()
		}
		if s.grpcServer != nil {
			s.grpcServer.Stop()
		}
		if s.httpListener != nil {
			if err := s.httpListener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("close gateway listener: %v", err)
			}
		}
		if s.healthListener != nil {
			if err := s.healthListener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("close health listener: %v", err)
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				log.Printf("close audit store: %v", err)
			}
		}
	})
}

func openAuditStore(path string) (*auditsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := auditsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return store, nil
}

