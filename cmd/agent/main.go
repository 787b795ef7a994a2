package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/provenanceagent/proof-agent/pkg/a2a"
	"github.com/provenanceagent/proof-agent/pkg/api"
	"github.com/provenanceagent/proof-agent/pkg/circuit"
	"github.com/provenanceagent/proof-agent/pkg/config"
	"github.com/provenanceagent/proof-agent/pkg/database"
	"github.com/provenanceagent/proof-agent/pkg/ethereum"
	"github.com/provenanceagent/proof-agent/pkg/eventbus"
	"github.com/provenanceagent/proof-agent/pkg/kv"
	"github.com/provenanceagent/proof-agent/pkg/mcp"
	"github.com/provenanceagent/proof-agent/pkg/metrics"
	"github.com/provenanceagent/proof-agent/pkg/onchain"
	"github.com/provenanceagent/proof-agent/pkg/payment"
	"github.com/provenanceagent/proof-agent/pkg/paymentgate"
	"github.com/provenanceagent/proof-agent/pkg/proofcache"
	"github.com/provenanceagent/proof-agent/pkg/prover"
	"github.com/provenanceagent/proof-agent/pkg/ratelimit"
	"github.com/provenanceagent/proof-agent/pkg/session"
	"github.com/provenanceagent/proof-agent/pkg/settlement"
	"github.com/provenanceagent/proof-agent/pkg/skills"
	"github.com/provenanceagent/proof-agent/pkg/task"
	"github.com/provenanceagent/proof-agent/pkg/tee"
	"github.com/provenanceagent/proof-agent/pkg/workerpool"
)

// buildVerifierAddresses constructs the (chainId, circuitId) -> address
// table the on-chain verifier needs, from the single configured verifier
// contract and the static circuit registry.
func buildVerifierAddresses(cfg *config.Config) onchain.VerifierAddresses {
	addresses := onchain.VerifierAddresses{}
	if cfg.VerifierContractAddress == "" || !common.IsHexAddress(cfg.VerifierContractAddress) {
		return addresses
	}
	byCircuit := map[string]common.Address{}
	for _, desc := range circuit.All() {
		byCircuit[desc.ID] = common.HexToAddress(cfg.VerifierContractAddress)
	}
	addresses[cfg.ChainID] = byCircuit
	return addresses
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	logger := log.New(os.Stdout, "[ProofAgent] ", log.LstdFlags)
	health := api.NewHealth()
	reg := metrics.New()

	logger.Printf("starting proof agent, chain id %d, payment mode %s, tee mode %s", cfg.ChainID, cfg.PaymentMode, cfg.TEEMode)

	store, err := kv.NewRedisStore(cfg.KVStoreURL)
	if err != nil {
		log.Fatalf("key-value store: %v", err)
	}
	health.KVStore.Set("connected")

	tasks := task.NewStore(store, cfg.ProofCacheTTL)
	requests := session.NewStore(store, cfg.SigningTTL)
	cache := proofcache.New(store, cfg.ProofCacheTTL)
	facilitator := payment.New(store, cfg.ProofCacheTTL)
	bus := eventbus.New()

	flows := session.NewFlowStore(store, requests, cfg.SigningTTL, func(ctx context.Context, req *session.Request) error {
		t := task.New(uuid.NewString(), "", "generate_proof", map[string]interface{}{
			"circuitId":   req.CircuitID,
			"scope":       req.Scope,
			"address":     req.Signing.Address,
			"signature":   req.Signing.Signature,
			"requestId":   req.RequestID,
			"countryList": req.CountryList,
			"isIncluded":  req.IsIncluded,
		})
		return tasks.Create(ctx, t)
	})

	var ethClient *ethereum.Client
	if cfg.ChainRPCURL != "" {
		ethClient, err = ethereum.NewClient(cfg.ChainRPCURL, cfg.ChainID)
		if err != nil {
			logger.Printf("ethereum client unavailable, on-chain features degraded: %v", err)
			health.Chain.Set("disconnected")
		} else {
			health.Chain.Set("connected")
		}
	} else {
		health.Chain.Set("disconnected")
	}

	verifier := onchain.NewVerifier(buildVerifierAddresses(cfg), nil)

	var identity *onchain.Identity
	var reputation *onchain.Reputation
	if ethClient != nil {
		if cfg.IdentityRegistryAddress != "" && common.IsHexAddress(cfg.IdentityRegistryAddress) {
			identity = onchain.NewIdentity(ethClient, common.HexToAddress(cfg.IdentityRegistryAddress), logger)
		}
		if cfg.ReputationRegistryAddress != "" && common.IsHexAddress(cfg.ReputationRegistryAddress) {
			reputation = onchain.NewReputation(ethClient, common.HexToAddress(cfg.ReputationRegistryAddress), logger)
		}
	}

	if identity != nil && cfg.ProverPrivateKey != "" {
		if signer, err := ethereum.GetPublicAddress(cfg.ProverPrivateKey); err == nil {
			agentCard := []byte(`{"name":"proof-agent","version":"` + cfg.AgentVersion + `"}`)
			go identity.EnsureRegistered(context.Background(), signer, cfg.ProverPrivateKey, agentCard)
		}
	}

	teeProvider := buildTEEProvider(cfg, logger)
	health.TEE.Set(teeHealthLabel(teeProvider))

	deps := &skills.Deps{
		Tasks:       tasks,
		Requests:    requests,
		Cache:       cache,
		Verifier:    verifier,
		Identity:    identity,
		Reputation:  reputation,
		Facilitator: facilitator,
		TEE:         teeProvider,
		Config:      cfg,
		SigningTTL:  cfg.SigningTTL,
	}

	var dbClient *database.Client
	if cfg.DatabaseURL != "" {
		dbClient, err = database.NewClient(cfg, database.WithLogger(logger))
		if err != nil {
			logger.Printf("database unavailable, audit trail disabled: %v", err)
			health.Database.Set("disconnected")
		} else {
			health.Database.Set("connected")
			if err := dbClient.MigrateUp(context.Background()); err != nil {
				logger.Printf("database migration failed: %v", err)
			}
		}
	} else {
		health.Database.Set("disconnected")
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := workerpool.New(tasks, bus, deps, cfg.WorkerCount, cfg.WorkerPollTick, log.New(os.Stdout, "[WorkerPool] ", log.LstdFlags))
	if dbClient != nil {
		pool.SetAuditClient(dbClient)
	}
	pool.Start(ctx)
	logger.Printf("worker pool started: %d pollers, tick %s", cfg.WorkerCount, cfg.WorkerPollTick)

	var settlementWorker *settlement.Worker
	if ethClient != nil && cfg.USDCAddress != "" && common.IsHexAddress(cfg.USDCAddress) && cfg.OperatorPrivKey != "" {
		transfer := settlement.ChainTransfer(ethClient, common.HexToAddress(cfg.USDCAddress), cfg.OperatorPrivKey)
		settlementWorker = settlement.NewWorker(facilitator, transfer, cfg.SettlementPollInterval, log.New(os.Stdout, "[Settlement] ", log.LstdFlags))
		if dbClient != nil {
			settlementWorker.SetAuditClient(dbClient)
		}
		settlementWorker.Start(ctx)
		logger.Printf("settlement worker started, poll interval %s", cfg.SettlementPollInterval)
	}

	limiter := ratelimit.New(store, "ratelimit", cfg.RateLimitMaxRequests, cfg.RateLimitWindow)
	gate := paymentgate.New(cfg.PaymentMode, cfg.SettlementNetwork, cfg.USDCAddress, cfg.PaymentPayTo, cfg.ProofPriceUSD)

	a2aHandler := a2a.New(tasks, bus, deps, log.New(os.Stdout, "[A2A] ", log.LstdFlags))
	mcpHandler := mcp.New(deps, log.New(os.Stdout, "[MCP] ", log.LstdFlags))
	restServer := api.New(deps, tasks, bus, gate, cfg, health, flows, a2aHandler, mcpHandler, log.New(os.Stdout, "[API] ", log.LstdFlags))

	mux := http.NewServeMux()
	mux.Handle("/", restServer.Handler())
	mux.Handle("/metrics", reg.Handler())

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "x-context-id", "x-payment"},
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: corsMiddleware.Handler(rateLimited(limiter, reg, mux)),
	}

	healthCron := cron.New()
	healthCron.AddFunc("@every 30s", func() {
		health.TEE.Set(teeHealthLabel(teeProvider))
		reg.SetTEEHealthy(teeProvider.HealthCheck(context.Background()))
		if ethClient != nil {
			if err := ethClient.Health(context.Background()); err != nil {
				health.Chain.Set("disconnected")
			} else {
				health.Chain.Set("connected")
			}
		}
		if dbClient != nil {
			if status, err := dbClient.Health(context.Background()); err != nil || !status.Healthy {
				health.Database.Set("disconnected")
			} else {
				health.Database.Set("connected")
			}
		}
	})
	healthCron.Start()
	defer healthCron.Stop()

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()
	pool.Stop()
	if settlementWorker != nil {
		settlementWorker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
	if dbClient != nil {
		if err := dbClient.Close(); err != nil {
			logger.Printf("database close error: %v", err)
		}
	}
	logger.Printf("shutdown complete")
}

func buildTEEProvider(cfg *config.Config, logger *log.Logger) tee.Provider {
	switch cfg.TEEMode {
	case config.TEENitro:
		return tee.NewNitroProvider(cfg.EnclaveCID, cfg.EnclavePort, cfg.AttestationMaxAge)
	case config.TEELocal:
		driver := prover.NewDriver(cfg.ProverBinDir+"/witness", cfg.ProverBinDir+"/prove", cfg.ProverBinDir, logger)
		return tee.NewLocalProvider(driver)
	case config.TEEAuto:
		if cfg.EnclaveCID != 0 {
			return tee.NewNitroProvider(cfg.EnclaveCID, cfg.EnclavePort, cfg.AttestationMaxAge)
		}
		driver := prover.NewDriver(cfg.ProverBinDir+"/witness", cfg.ProverBinDir+"/prove", cfg.ProverBinDir, logger)
		return tee.NewLocalProvider(driver)
	default:
		return tee.DisabledProvider{}
	}
}

func teeHealthLabel(p tee.Provider) string {
	if p.HealthCheck(context.Background()) {
		return "connected"
	}
	return "disconnected"
}

// rateLimited applies the rate limiter ahead of every request, keyed on the
// caller's remote address, and records rejections to the metrics registry.
func rateLimited(limiter *ratelimit.Limiter, reg *metrics.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := limiter.Check(r.Context(), r.RemoteAddr)
		if err == nil && !result.Allowed {
			reg.RateLimitRejected.Inc()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
