// Command claimledger runs the claim evaluation orchestrator as an HTTP
// service: the ancillary REST surface (internal/httpapi) plus a
// Prometheus metrics endpoint, backed by Postgres, Redis and the
// configured LLM/chain endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/audit"
	"github.com/nevilshah235/claimledger-sub000/internal/chain"
	"github.com/nevilshah235/claimledger-sub000/internal/config"
	"github.com/nevilshah235/claimledger-sub000/internal/decision"
	"github.com/nevilshah235/claimledger-sub000/internal/httpapi"
	"github.com/nevilshah235/claimledger-sub000/internal/llm"
	"github.com/nevilshah235/claimledger-sub000/internal/lock"
	"github.com/nevilshah235/claimledger-sub000/internal/metrics"
	"github.com/nevilshah235/claimledger-sub000/internal/orchestrator"
	"github.com/nevilshah235/claimledger-sub000/internal/payment"
	"github.com/nevilshah235/claimledger-sub000/internal/settlement"
	"github.com/nevilshah235/claimledger-sub000/internal/stages"
	"github.com/nevilshah235/claimledger-sub000/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	claimLock := lock.New(redisClient, cfg.Redis.LockTTL)

	inference, err := llm.NewClient(cfg.LLM, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build LLM client")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sink := &audit.Sink{Repo: store, Log: log}

	executor := &stages.Executor{Sink: sink, Timeout: cfg.Stage.Timeout(), Metrics: m}
	documentStage := &stages.DocumentStage{Inference: inference, Model: cfg.LLM.Model, Log: log}
	imageStage := &stages.ImageStage{Inference: inference, Model: cfg.LLM.Model, Log: log}
	fraudStage := &stages.FraudStage{Inference: inference, Model: cfg.LLM.Model, Log: log}
	reasoningStage := &stages.ReasoningStage{Inference: inference, Model: cfg.LLM.Model, Log: log}

	if cfg.Payment.ReceiptSecret != "" {
		fraudStage.Verifier = payment.NewGateway(nil, store, []byte(cfg.Payment.ReceiptSecret), log)
	}

	orch := &orchestrator.Orchestrator{
		Store:            store,
		Blobs:            evidenceBlobs{store: store},
		Executor:         executor,
		Document:         documentStage,
		Image:            imageStage,
		Fraud:            fraudStage,
		Reasoning:        reasoningStage,
		Thresholds:       decision.Thresholds(cfg.Decision),
		Settlement:       buildSettler(cfg, store, log, m),
		PipelineDeadline: cfg.Pipeline.Timeout(),
		Log:              log,
		Metrics:          m,
		Receipts:         store,
		ToolCosts: orchestrator.ToolCosts{
			Document: cfg.ToolCost.VerifyDocumentCost(),
			Image:    cfg.ToolCost.VerifyImageCost(),
			Fraud:    cfg.ToolCost.VerifyFraudCost(),
		},
	}

	server := httpapi.New(store, sink, orch, log)

	httpSrv := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: lockingMiddleware(claimLock, server.Router(), log)}
	metricsSrv := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("starting HTTP server")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
	go func() {
		log.WithField("addr", metricsSrv.Addr).Info("starting metrics server")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// buildSettler constructs the settlement driver when a chain RPC endpoint
// is configured; a disabled driver otherwise so Evaluate's conditional
// settlement branch never needs a nil check.
func buildSettler(cfg *config.Config, store *postgres.Store, log *logrus.Logger, m *metrics.Metrics) *settlement.Driver {
	amountCap, err := cfg.Settlement.AmountCapDecimal()
	if err != nil {
		log.WithError(err).Warn("ignoring invalid settlement.amount_cap")
		amountCap = nil
	}

	var chainClient *chain.Client
	if cfg.Settlement.RPCURL != "" {
		chainClient = chain.NewClient(cfg.Settlement.RPCURL, cfg.Settlement.ChainID)
	}

	return &settlement.Driver{
		Chain: chainClient,
		Gas:   store,
		Config: settlement.Config{
			Enabled:        cfg.Settlement.Enabled && chainClient != nil,
			AmountCap:      amountCap,
			EscrowAddress:  cfg.Settlement.EscrowAddress,
			TokenAddress:   cfg.Settlement.TokenAddress,
			InsurerAddress: cfg.Settlement.InsurerAddress,
		},
		Log:     log,
		Metrics: m,
	}
}

// evidenceBlobs adapts Store.GetEvidence (keyed by claim and evidence ID)
// to orchestrator.Blobs.Get's single storage-path lookup. Evidence storage
// paths are always "<claimID>/<evidenceID>", the shape every evidence
// record is created with.
type evidenceBlobs struct {
	store *postgres.Store
}

func (b evidenceBlobs) Get(ctx context.Context, storagePath string) ([]byte, error) {
	claimID, evidenceID, ok := strings.Cut(storagePath, "/")
	if !ok {
		return nil, fmt.Errorf("evidence blob: malformed storage path %q", storagePath)
	}
	_, data, err := b.store.GetEvidence(ctx, claimID, evidenceID)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// lockingMiddleware serializes /claims/{id}/evaluate requests per claim ID
// using the Redis claim lock, complementing the Postgres row lock taken
// inside CommitOutcome for cross-instance exclusion.
func lockingMiddleware(claimLock *lock.ClaimLock, next http.Handler, log *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := evaluateClaimID(r)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		const holder = "httpapi"
		ok, err := claimLock.Acquire(r.Context(), id, holder)
		if err != nil {
			log.WithError(err).WithField("claim_id", id).Error("claim lock acquire failed")
			http.Error(w, "lock unavailable", http.StatusServiceUnavailable)
			return
		}
		if !ok {
			http.Error(w, "claim is already being evaluated", http.StatusConflict)
			return
		}
		defer func() {
			if err := claimLock.Release(r.Context(), id, holder); err != nil {
				log.WithError(err).WithField("claim_id", id).Warn("claim lock release failed")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// evaluateClaimID extracts the claim ID from an evaluate request path
// ("/claims/{id}/evaluate"); empty for any other route.
func evaluateClaimID(r *http.Request) string {
	if r.Method != http.MethodPost {
		return ""
	}
	const prefix, suffix = "/claims/", "/evaluate"
	path := r.URL.Path
	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}
	if path[:len(prefix)] != prefix || path[len(path)-len(suffix):] != suffix {
		return ""
	}
	return path[len(prefix) : len(path)-len(suffix)]
}
