package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-bridge/internal/accumulator"
	"go-bridge/internal/clients"
	"go-bridge/internal/config"
	"go-bridge/internal/db"
	"go-bridge/internal/events"
	"go-bridge/internal/lockbox"
	"go-bridge/internal/models"
	"go-bridge/internal/orchestrator"
	"go-bridge/internal/registry"
	"go-bridge/internal/relayer"
	"go-bridge/internal/repository"
	"go-bridge/internal/verifier"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer wires every service the server runs.
type ServiceContainer struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	// Repositories
	DepositRepo     repository.DepositRepository
	TransactionRepo repository.TransactionRepository
	AccumulatorRepo repository.AccumulatorRepository
	RelayRepo       repository.RelayRepository

	// Core services
	Registry     *registry.ChainRegistry
	Accumulator  *accumulator.Accumulator
	Verifier     *verifier.Verifier
	Lockboxes    *lockbox.Manager
	Relayer      *relayer.Relayer
	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus

	// Clients
	ProverClient *clients.ProverClient
	NATSClient   *clients.NATSClient
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container once from the loaded config.
func InitializeContainer(logger *logrus.Logger) (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		cfg := config.AppConfig
		if cfg == nil {
			initErr = fmt.Errorf("configuration not loaded")
			return
		}
		if logger == nil {
			logger = logrus.StandardLogger()
		}

		container := &ServiceContainer{DB: db.DB, Logger: logger}

		if container.DB != nil {
			container.DepositRepo = repository.NewDepositRepository(container.DB)
			container.TransactionRepo = repository.NewTransactionRepository(container.DB)
			container.AccumulatorRepo = repository.NewAccumulatorRepository(container.DB)
			container.RelayRepo = repository.NewRelayRepository(container.DB)
		}

		if initErr = container.initCore(cfg); initErr != nil {
			return
		}
		if initErr = container.initEvents(cfg); initErr != nil {
			return
		}
		Container = container
	})

	if initErr != nil {
		return nil, initErr
	}
	return Container, nil
}

func (c *ServiceContainer) initCore(cfg *config.Config) error {
	reg, err := registry.NewChainRegistry(cfg.Chains)
	if err != nil {
		return fmt.Errorf("failed to build chain registry: %w", err)
	}
	c.Registry = reg

	c.Accumulator = accumulator.New(cfg.Accumulator.TreeDepth, cfg.Accumulator.MaxRecentRoots,
		c.AccumulatorRepo, c.Logger)
	if c.AccumulatorRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := c.Accumulator.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore accumulator state: %w", err)
		}
	}

	c.ProverClient = clients.NewProverClient(cfg.Prover.BaseURL)
	c.Verifier = verifier.New(c.Accumulator, c.ProverClient, verifier.Options{
		VerificationKey:      cfg.Prover.VerificationKey,
		ExpectedPublicInputs: cfg.Prover.PublicInputs,
		StrictMode:           cfg.Prover.StrictMode,
	}, c.Logger)

	c.Lockboxes, err = lockbox.NewManager(cfg, reg, c.Accumulator, c.DepositRepo, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to build lockboxes: %w", err)
	}
	if c.DepositRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := c.Lockboxes.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore custody state: %w", err)
		}
	}

	c.Bus = events.NewBus(c.Logger)

	// Dispatch goes to an external relayer network when one is configured,
	// otherwise through the orchestrator in-process; the container field is
	// resolved lazily to break the construction cycle.
	var dispatch relayer.Dispatcher
	var stats relayer.StatsProvider = &lockboxStats{manager: c.Lockboxes, registry: reg}
	if cfg.Relayer.BaseURL != "" {
		networkClient := clients.NewRelayerNetworkClient(cfg.Relayer.BaseURL, cfg.Relayer.APIKey)
		dispatch = relayer.NewRemoteDispatcher(networkClient)
		stats = relayer.NewRemoteStats(networkClient)
	} else {
		dispatch = relayer.DispatchFunc(func(ctx context.Context, req *models.RelayRequest) (string, error) {
			return c.Orchestrator.Dispatch(ctx, req)
		})
	}
	c.Relayer = relayer.New(reg, dispatch, relayer.PolicyFromConfig(cfg.Relayer),
		cfg.Relayer.Workers, c.RelayRepo, stats, c.Logger)

	c.Orchestrator = orchestrator.New(cfg, reg, c.Lockboxes, c.Relayer, c.Verifier,
		c.ProverClient, c.Accumulator, c.TransactionRepo, c.Bus, c.Logger)
	if c.TransactionRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := c.Orchestrator.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore transaction state: %w", err)
		}
	}
	c.Relayer.OnUpdate(c.Orchestrator.HandleRelayUpdate)
	return nil
}

func (c *ServiceContainer) initEvents(cfg *config.Config) error {
	if cfg.NATS.URL == "" {
		c.Logger.Info("NATS URL not configured, events stay in-process")
		return nil
	}
	natsClient, err := clients.NewNATSClient(cfg.NATS.URL, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.NATSClient = natsClient
	c.Bus.AddForwarder(events.NewNATSForwarder(natsClient, c.Logger))
	return nil
}

// Start launches the background services.
func (c *ServiceContainer) Start() {
	c.Relayer.Start()
	c.Orchestrator.Start()
}

// Shutdown stops background services and releases connections.
func (c *ServiceContainer) Shutdown() {
	c.Orchestrator.Stop()
	c.Relayer.Stop()
	c.Lockboxes.Close()
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
}

// lockboxStats reports per-chain fee levels and lag for relayer health.
type lockboxStats struct {
	manager  *lockbox.Manager
	registry *registry.ChainRegistry
}

func (s *lockboxStats) ChainLag(ctx context.Context) map[string]uint64 {
	// Lag tracking needs head subscriptions; reported as zero until then.
	out := make(map[string]uint64)
	for _, info := range s.registry.All() {
		out[info.ID] = 0
	}
	return out
}

func (s *lockboxStats) FeeLevels(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for _, lb := range s.manager.All() {
		fee, err := lb.Executor().EstimateFee(ctx, lockbox.FeeOpUnlock)
		if err != nil {
			continue
		}
		out[lb.ChainID()] = fee.String()
	}
	return out
}
