package main

import (
	"context"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/babylonai/a2a-go/internal/a2a"
	"github.com/babylonai/a2a-go/internal/bus"
	"github.com/babylonai/a2a-go/internal/chain"
	"github.com/babylonai/a2a-go/internal/config"
	"github.com/babylonai/a2a-go/internal/logger"
	"github.com/babylonai/a2a-go/internal/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	bootLog := logger.New("info", "text")

	// Load configuration
	bootLog.Infof("Loading configuration from %s", *configPath)
	appConfig, err := config.LoadConfig(*configPath, bootLog)
	if err != nil {
		bootLog.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		appConfig.Logging.Level = *logLevel
	}

	log := logger.New(appConfig.Logging.Level, appConfig.Logging.Format)
	log.Info("Starting Babylon A2A server...")

	eventBus := bus.NewEventBus(log)
	defer eventBus.Stop()
	log.AddHook(logger.NewBusLogHook(eventBus, "a2a-server"))

	// Chain collaborators (optional)
	var identity a2a.IdentityRegistry
	var ledger a2a.Ledger
	if appConfig.Chain.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		rpcLedger, err := chain.NewRPCLedger(ctx, appConfig.Chain.RPCURL)
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to chain RPC: %v", err)
		}
		defer rpcLedger.Close()
		ledger = rpcLedger

		if appConfig.Chain.RegistryAddress != "" {
			registry, err := chain.NewContractRegistry(
				common.HexToAddress(appConfig.Chain.RegistryAddress), rpcLedger.Client())
			if err != nil {
				log.Fatalf("Failed to bind identity registry: %v", err)
			}
			identity = registry
		}
		log.Infof("Chain collaborators connected: %s", appConfig.Chain.RPCURL)
	} else {
		log.Warn("Chain disabled: skipping ownership checks and payment verification")
	}

	// Storage backends
	var sessions a2a.SessionStore
	var payments a2a.PaymentStore
	switch appConfig.Store.Backend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := store.NewPostgres(ctx, appConfig.Store.PostgresURL)
		if err != nil {
			cancel()
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to prepare schema: %v", err)
		}
		cancel()
		defer pg.Close()
		sessions = pg.SessionStore()
		payments = pg.PaymentStore()
		log.Info("Using postgres-backed session/payment stores")
	default:
		sessions = a2a.NewMemorySessionStore()
		payments = a2a.NewMemoryPaymentStore()
	}

	auth := a2a.NewAuthManager(sessions, identity, log)
	subscriptions := a2a.NewSubscriptionRegistry()
	coalitions := a2a.NewCoalitionRegistry(appConfig.Server.Coalitions.AllowRejoinInactive, log)

	minAmount, _ := new(big.Int).SetString(appConfig.Payments.MinAmount, 10)
	paymentLedger := a2a.NewPaymentLedger(payments, ledger, minAmount, appConfig.Payments.PaymentTimeout(), log)

	router := a2a.NewMessageRouter(
		a2a.RouterConfig{
			PaymentsEnabled:   appConfig.Payments.Enabled,
			CoalitionsEnabled: appConfig.Server.Coalitions.Enabled,
		},
		coalitions, subscriptions, paymentLedger, identity, nil, eventBus, log,
	)

	server := a2a.NewServer(
		a2a.ServerOptions{
			Host:                        appConfig.Server.Host,
			Port:                        appConfig.Server.Port,
			MaxConnections:              appConfig.Server.MaxConnections,
			RateLimitPerMinute:          appConfig.Server.RateLimitPerMinute,
			AuthTimeout:                 appConfig.Server.AuthTimeout(),
			LeaveCoalitionsOnDisconnect: appConfig.Server.Coalitions.LeaveOnDisconnect,
		},
		auth, router, subscriptions, coalitions, paymentLedger, eventBus, log,
	)

	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("Received signal %v, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Close(ctx); err != nil {
		log.Errorf("Shutdown incomplete: %v", err)
	}
}
