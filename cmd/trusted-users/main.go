/*
Copyright 2026 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command trusted-users runs C2: the trust graph, exposed over
// social.spkeasy.graph.* and consumed by the session-owning services'
// propagation workers over C7.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/spkeasy-social/control-plane/internal/api"
	"github.com/spkeasy-social/control-plane/internal/config"
	"github.com/spkeasy-social/control-plane/internal/graphapi"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/kmswrap"
	"github.com/spkeasy-social/control-plane/internal/pgconn"
	"github.com/spkeasy-social/control-plane/internal/schema"
	"github.com/spkeasy-social/control-plane/internal/trustgraph"
	"github.com/spkeasy-social/control-plane/pkg/logging"
	"github.com/spkeasy-social/control-plane/pkg/metrics"
)

const serviceName = "trusted-users"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// trusted-users publishes propagation jobs for the session-owning
	// services but calls neither of them over C7, so it registers no peers.
	cfg := config.ParseBase(serviceName, nil)

	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgconn.Open(pgconn.Config{ConnString: cfg.PostgresConn, MaxConns: 10, MinConns: 2})
	if err != nil {
		return fmt.Errorf("opening postgres pool: %w", err)
	}
	defer pool.Close()

	migrator, err := pgconn.NewMigrator(trustgraph.MigrationFS, trustgraph.MigrationDir, cfg.PostgresConn, log)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	upErr := migrator.Up()
	_ = migrator.Close()
	if upErr != nil {
		return upErr
	}

	kmsProvider, err := kmswrap.NewProvider(cfg.KMSConfig())
	if err != nil {
		return fmt.Errorf("creating KMS provider: %w", err)
	}
	defer func() { _ = kmsProvider.Close() }()

	fieldKey, err := cfg.UnwrapFieldKey(ctx, kmsProvider)
	if err != nil {
		return err
	}

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = redisClient.Close() }()

	queue, err := jobqueue.NewRedisQueue(redisClient, jobqueue.Config{FieldEncryptionKey: fieldKey}, log)
	if err != nil {
		return fmt.Errorf("creating job queue: %w", err)
	}
	defer func() { _ = queue.Close() }()

	m := metrics.New(metrics.Config{Service: serviceName})
	queue.SetMetrics(m)

	if _, err := jobqueue.StartSweeper(ctx, queue, cfg.SweepSchedule, log); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}

	store := trustgraph.NewPostgresStore(pool)
	service := trustgraph.NewService(store, queue, log,
		config.TrustQuota(trustgraph.DefaultDailyQuota),
		config.BulkDelay(trustgraph.DefaultBulkDelay),
		nil)
	handlers := graphapi.NewHandlers(service, log)

	registry := schema.NewRegistry()
	var verifierOpts []identity.VerifierOption
	if len(cfg.FederationAllowlist) > 0 {
		verifierOpts = append(verifierOpts, identity.WithAllowlist(cfg.FederationAllowlist))
	}
	verifier := identity.NewVerifier(cfg.ServiceSecrets, identity.NewHTTPProfileFetcher(), log, verifierOpts...)
	server := api.NewServer(verifier, registry, log)
	server.SetMetrics(m)

	server.RegisterMethod("social.spkeasy.graph.getTrusted", false, handlers.GetTrusted)
	server.RegisterMethod("social.spkeasy.graph.addTrusted", false, handlers.AddTrusted)
	server.RegisterMethod("social.spkeasy.graph.bulkAddTrusted", false, handlers.BulkAddTrusted)
	server.RegisterMethod("social.spkeasy.graph.removeTrusted", false, handlers.RemoveTrusted)
	server.RegisterMethod("social.spkeasy.graph.bulkRemoveTrusted", false, handlers.BulkRemoveTrusted)

	metricsSrv := config.NewMetricsServer(cfg.MetricsAddr)
	healthSrv := config.NewHealthServer(cfg.HealthAddr, pool.Pool)
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: server}

	config.StartHTTPServer(log, "metrics", cfg.MetricsAddr, metricsSrv)
	config.StartHTTPServer(log, "health", cfg.HealthAddr, healthSrv)
	config.StartHTTPServer(log, "xrpc", cfg.APIAddr, apiSrv)

	log.Info("trusted-users ready", "api", cfg.APIAddr, "health", cfg.HealthAddr, "metrics", cfg.MetricsAddr)

	<-ctx.Done()
	log.Info("shutting down")
	config.ShutdownServers(log, map[string]*http.Server{
		"metrics": metricsSrv,
		"health":  healthSrv,
		"xrpc":    apiSrv,
	})
	return nil
}
