// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main starts uasecd, the UA-TCP secure-channel handshake
// service.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	httpapi "github.com/absmach/uasc/api"
	"github.com/absmach/uasc/asym"
	"github.com/absmach/uasc/audit"
	auditpg "github.com/absmach/uasc/audit/postgres"
	"github.com/absmach/uasc/events"
	"github.com/absmach/uasc/internal/clients/jaeger"
	"github.com/absmach/uasc/internal/clients/postgres"
	"github.com/absmach/uasc/internal/env"
	"github.com/absmach/uasc/internal/server"
	httpserver "github.com/absmach/uasc/internal/server/http"
	"github.com/absmach/uasc/internal/server/uatcp"
	"github.com/absmach/uasc/pki"
	"github.com/absmach/uasc/securechannel"
	uascsvc "github.com/absmach/uasc/uasc"
	uasctracing "github.com/absmach/uasc/uasc/tracing"
	"github.com/gofrs/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	svcName        = "uasecd"
	envPrefixUATCP = "UASC_UATCP_"
	envPrefixHTTP  = "UASC_HTTP_"
	envPrefixDB    = "UASC_DB_"
	defUATCPPort   = "4840"
	defHTTPPort    = "8080"
	workerPoolSize = 16
)

type config struct {
	InstanceID      string  `env:"UASC_INSTANCE_ID"       envDefault:""`
	BrokerURL       string  `env:"UASC_BROKER_URL"        envDefault:"nats://localhost:4222"`
	JaegerURL       string  `env:"UASC_JAEGER_URL"        envDefault:""`
	TraceSampleFrac float64 `env:"UASC_TRACE_SAMPLE_FRAC" envDefault:"1.0"`

	CertFile string `env:"UASC_CERT_FILE" envDefault:""`
	KeyFile  string `env:"UASC_KEY_FILE"  envDefault:""`

	VaultHost       string `env:"UASC_VAULT_HOST"          envDefault:""`
	VaultRole       string `env:"UASC_VAULT_ROLE"          envDefault:"uasc"`
	VaultPKIPath    string `env:"UASC_VAULT_PKI_PATH"      envDefault:"pki"`
	VaultAppRole    string `env:"UASC_VAULT_APPROLE_ID"    envDefault:""`
	VaultSecret     string `env:"UASC_VAULT_APPROLE_SECRET" envDefault:""`
	VaultCommonName string `env:"UASC_VAULT_COMMON_NAME"   envDefault:"uasecd"`
	VaultTTL        string `env:"UASC_VAULT_TTL"           envDefault:"720h"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load %s configuration: %s", svcName, err)
	}

	if cfg.InstanceID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			logger.Error(fmt.Sprintf("failed to generate instance id: %s", err))
			os.Exit(1)
		}
		cfg.InstanceID = id.String()
	}

	store, err := setupCertStore(ctx, cfg, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to set up certificate store: %s", err))
		os.Exit(1)
	}

	if cfg.JaegerURL != "" {
		tp, err := jaeger.NewProvider(ctx, svcName, cfg.JaegerURL, cfg.InstanceID, cfg.TraceSampleFrac)
		if err != nil {
			logger.Error(fmt.Sprintf("failed to initialize tracing: %s", err))
			os.Exit(1)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn(fmt.Sprintf("failed to flush tracer provider: %s", err))
			}
		}()
	}

	dbCfg := postgres.Config{}
	if err := env.Parse(&dbCfg, env.Options{Prefix: envPrefixDB}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s database configuration: %s", svcName, err))
		os.Exit(1)
	}
	var auditRepo audit.Repository = audit.NopRepository{}
	if dbCfg.Name != "" {
		db, err := postgres.Setup(dbCfg, *auditpg.Migration())
		if err != nil {
			logger.Error(fmt.Sprintf("failed to set up audit database: %s", err))
			os.Exit(1)
		}
		defer db.Close()
		auditRepo = auditpg.NewRepository(db)
	}

	var eventsPub events.Publisher = events.NopPublisher{}
	if cfg.BrokerURL != "" {
		pub, err := events.NewPublisher(cfg.BrokerURL)
		if err != nil {
			logger.Error(fmt.Sprintf("failed to connect to message broker: %s", err))
			os.Exit(1)
		}
		defer pub.Close()
		eventsPub = pub
	}

	pool := securechannel.NewPool(ctx, workerPoolSize)
	registry := securechannel.NewRegistry(pool, func(channelID uint32) {
		logger.Info(fmt.Sprintf("secure channel %d expired without renewal", channelID))
	})

	orchestrator := &uascsvc.Orchestrator{
		Registry: registry,
		Store:    store,
		Audit:    auditRepo,
		Events:   eventsPub,
		Logger:   logger,
	}

	var svc uascsvc.Service = orchestrator
	if cfg.JaegerURL != "" {
		svc = uasctracing.New(svc, otel.Tracer(svcName))
	}

	uatcpCfg := server.Config{Port: defUATCPPort}
	if err := env.Parse(&uatcpCfg, env.Options{Prefix: envPrefixUATCP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s UA-TCP server configuration: %s", svcName, err))
		os.Exit(1)
	}
	uatcpSrv := uatcp.New(ctx, cancel, svcName, uatcpCfg, svc, logger)

	httpCfg := server.Config{Port: defHTTPPort}
	if err := env.Parse(&httpCfg, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration: %s", svcName, err))
		os.Exit(1)
	}
	handler := httpapi.MakeHandler(registry, auditRepo, svcName, cfg.InstanceID)
	httpSrv := httpserver.New(ctx, cancel, svcName, httpCfg, handler, logger)

	g.Go(func() error {
		return uatcpSrv.Start()
	})
	g.Go(func() error {
		return httpSrv.Start()
	})
	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, uatcpSrv, httpSrv)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service terminated: %s", svcName, err))
	}
	_ = pool.Wait()
}

// setupCertStore prefers Vault-issued identity when UASC_VAULT_HOST is
// set, falling back to a static file-based certificate/key pair.
func setupCertStore(ctx context.Context, cfg config, logger *slog.Logger) (asym.CertStore, error) {
	if cfg.VaultHost != "" {
		vs, err := pki.NewVaultStore(ctx, cfg.VaultHost, "", cfg.VaultAppRole, cfg.VaultSecret, cfg.VaultPKIPath, cfg.VaultRole, cfg.VaultCommonName, cfg.VaultTTL, logger)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := vs.Run(ctx); err != nil {
				logger.Warn(fmt.Sprintf("vault pki login/renew loop stopped: %s", err))
			}
		}()
		return vs, nil
	}

	return pki.LoadFileStore(cfg.CertFile, cfg.KeyFile)
}
