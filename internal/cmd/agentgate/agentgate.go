// Package agentgate parses gateway command flags and launches the service.
package agentgate

import (
	"context"
	"flag"
	"fmt"

	"github.com/ferrolab/agentgate/internal/platform/config"
	server "github.com/ferrolab/agentgate/internal/services/gateway/app"
)

// Config holds gateway command configuration.
type Config struct {
	Port       int `env:"AGENTGATE_PORT"        envDefault:"8080"`
	HealthPort int `env:"AGENTGATE_HEALTH_PORT" envDefault:"8081"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The gateway HTTP port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The gateway gRPC health port")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the gateway service.
func Run(ctx context.Context, cfg Config) error {
	return server.Run(ctx, server.Config{
		HTTPAddr:   fmt.Sprintf(":%d", cfg.Port),
		HealthAddr: fmt.Sprintf(":%d", cfg.HealthPort),
	})
}
