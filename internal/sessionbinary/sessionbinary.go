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

// Package sessionbinary is the run() body shared by the private-sessions
// and private-profiles commands. The two binaries differ only in service
// name, xrpc method namespace, and sessionstore.Kind, so rather than two
// near-identical main.go files this carries the one real implementation
// and each cmd package supplies an Options literal.
package sessionbinary

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/spkeasy-social/control-plane/internal/api"
	"github.com/spkeasy-social/control-plane/internal/config"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/keystore"
	"github.com/spkeasy-social/control-plane/internal/kmswrap"
	"github.com/spkeasy-social/control-plane/internal/pgconn"
	"github.com/spkeasy-social/control-plane/internal/propagation"
	"github.com/spkeasy-social/control-plane/internal/rpcclient"
	"github.com/spkeasy-social/control-plane/internal/schema"
	"github.com/spkeasy-social/control-plane/internal/sessionapi"
	"github.com/spkeasy-social/control-plane/internal/sessionstore"
	"github.com/spkeasy-social/control-plane/internal/trustgraph"
	"github.com/spkeasy-social/control-plane/pkg/logging"
	"github.com/spkeasy-social/control-plane/pkg/metrics"
)

// Options distinguishes the two session-owning binaries.
type Options struct {
	// ServiceName is "private-sessions" or "private-profiles", used both
	// for C7 authentication and to route this binary's own propagation jobs.
	ServiceName string
	// MethodPrefix is "privateSession" or "profileSession", the xrpc
	// namespace segment under social.spkeasy.
	MethodPrefix string
	// StoreKind selects sessionstore's default lookback window.
	StoreKind sessionstore.Kind
}

// workerConcurrency is the per-handler pool size used when the
// worker-concurrency setting is not positive; each of the four propagation
// job names gets its own pool.
const workerConcurrency = 4

// Run parses flags, wires every dependency, serves the xrpc API and
// propagation job workers, and blocks until an interrupt signal.
func Run(opts Options) error {
	cfg := config.ParseBase(opts.ServiceName, []string{rpcclient.TrustedUsersService, rpcclient.UserKeysService})

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

	migrator, err := pgconn.NewMigrator(sessionstore.MigrationFS, sessionstore.MigrationDir, cfg.PostgresConn, log)
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

	m := metrics.New(metrics.Config{Service: opts.ServiceName})
	queue.SetMetrics(m)

	if _, err := jobqueue.StartSweeper(ctx, queue, cfg.SweepSchedule, log); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}

	registry := schema.NewRegistry()
	rpcClient := rpcclient.NewClient(opts.ServiceName, cfg.Peers, registry, log, rpcclient.WithMetrics(m))
	trust := rpcclient.NewTrustClient(rpcClient)
	keys := rpcclient.NewKeyClient(rpcClient)

	store := sessionstore.NewPostgresStore(pool, sessionstore.DefaultConfig(opts.StoreKind))
	updateKeysJob := trustgraph.RoutedJobName(opts.ServiceName, keystore.JobUpdateSessionKeys)
	prop := propagation.NewHandlers(store, trust, keys, queue, updateKeysJob, log)

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = workerConcurrency
	}

	for _, jobName := range []string{
		trustgraph.JobAddRecipientToSessions,
		trustgraph.JobRevokeSession,
		trustgraph.JobDeleteSessionKeys,
	} {
		jobName := jobName
		routed := trustgraph.RoutedJobName(opts.ServiceName, jobName)
		handler := propagationHandlerFor(prop, jobName)
		go func() {
			if err := queue.Work(ctx, routed, concurrency, handler); err != nil && ctx.Err() == nil {
				log.Error(err, "job worker exited", "job", routed)
			}
		}()
	}

	go func() {
		if err := queue.Work(ctx, updateKeysJob, concurrency, prop.UpdateSessionKeys); err != nil && ctx.Err() == nil {
			log.Error(err, "job worker exited", "job", updateKeysJob)
		}
	}()

	sessions := sessionapi.NewHandlers(sessionapi.Config{ServiceName: opts.ServiceName, SessionTTL: sessionTTLFor(opts.StoreKind)}, store, trust, keys, queue, prop, log)

	var verifierOpts []identity.VerifierOption
	if len(cfg.FederationAllowlist) > 0 {
		verifierOpts = append(verifierOpts, identity.WithAllowlist(cfg.FederationAllowlist))
	}
	verifier := identity.NewVerifier(cfg.ServiceSecrets, identity.NewHTTPProfileFetcher(), log, verifierOpts...)
	server := api.NewServer(verifier, registry, log)
	server.SetMetrics(m)

	server.RegisterMethod("social.spkeasy."+opts.MethodPrefix+".create", false, sessions.Create)
	server.RegisterMethod("social.spkeasy."+opts.MethodPrefix+".addUser", false, sessions.AddUser)
	server.RegisterMethod("social.spkeasy."+opts.MethodPrefix+".revoke", false, sessions.Revoke)
	server.RegisterMethod("social.spkeasy."+opts.MethodPrefix+".updateKeys", true, sessions.UpdateKeys)

	metricsSrv := config.NewMetricsServer(cfg.MetricsAddr)
	healthSrv := config.NewHealthServer(cfg.HealthAddr, pool.Pool)
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: server}

	config.StartHTTPServer(log, "metrics", cfg.MetricsAddr, metricsSrv)
	config.StartHTTPServer(log, "health", cfg.HealthAddr, healthSrv)
	config.StartHTTPServer(log, "xrpc", cfg.APIAddr, apiSrv)

	log.Info(opts.ServiceName+" ready", "api", cfg.APIAddr, "health", cfg.HealthAddr, "metrics", cfg.MetricsAddr)

	<-ctx.Done()
	log.Info("shutting down", "service", opts.ServiceName)
	config.ShutdownServers(log, map[string]*http.Server{
		"metrics": metricsSrv,
		"health":  healthSrv,
		"xrpc":    apiSrv,
	})
	return nil
}

func propagationHandlerFor(prop *propagation.Handlers, jobName string) jobqueue.Handler {
	switch jobName {
	case trustgraph.JobAddRecipientToSessions:
		return prop.AddRecipientToSessions
	case trustgraph.JobRevokeSession:
		return prop.RevokeSession
	default:
		return prop.DeleteSessionKeys
	}
}

func sessionTTLFor(kind sessionstore.Kind) (ttl time.Duration) {
	if kind == sessionstore.KindPrivateProfiles {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
