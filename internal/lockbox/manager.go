package lockbox

import (
	"context"
	"math/big"
	"time"

	"go-bridge/internal/accumulator"
	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/registry"
	"go-bridge/internal/repository"
	"go-bridge/internal/utils"

	"github.com/sirupsen/logrus"
)

// Manager holds one lockbox per configured chain. The map is built at
// startup and read-only afterwards.
type Manager struct {
	lockboxes map[string]*Lockbox
}

// NewManager builds executors and lockboxes for every configured chain.
func NewManager(cfg *config.Config, reg *registry.ChainRegistry, acc *accumulator.Accumulator,
	repo repository.DepositRepository, logger *logrus.Logger) (*Manager, error) {
	bounds := Bounds{
		MinLockDuration: time.Duration(cfg.Bridge.MinLockSeconds) * time.Second,
		MaxLockDuration: time.Duration(cfg.Bridge.MaxLockSeconds) * time.Second,
	}

	m := &Manager{lockboxes: make(map[string]*Lockbox)}
	for _, chainCfg := range cfg.Chains {
		info, err := reg.MustGet(chainCfg.ID)
		if err != nil {
			return nil, err
		}
		executor, err := NewExecutor(chainCfg, info)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, errs.CodeInvalidConfig,
				"failed to build executor for chain "+chainCfg.ID, err)
		}
		tokens, err := tokenLimits(cfg.Tokens, chainCfg.ID)
		if err != nil {
			return nil, err
		}
		m.lockboxes[chainCfg.ID] = New(info, executor, acc, repo, bounds, tokens, logger)
	}
	return m, nil
}

// Get returns the lockbox for a chain.
func (m *Manager) Get(chainID string) (*Lockbox, error) {
	lb, ok := m.lockboxes[chainID]
	if !ok {
		return nil, errs.Newf(errs.KindChain, errs.CodeUnsupportedChain,
			"no lockbox for chain %s", chainID)
	}
	return lb, nil
}

// Restore reloads live custody on every lockbox from the repository.
func (m *Manager) Restore(ctx context.Context) error {
	for _, lb := range m.lockboxes {
		if err := lb.Restore(ctx); err != nil {
			return err
		}
	}
	return nil
}

// All returns every lockbox, in no particular order.
func (m *Manager) All() []*Lockbox {
	out := make([]*Lockbox, 0, len(m.lockboxes))
	for _, lb := range m.lockboxes {
		out = append(out, lb)
	}
	return out
}

// Close releases every executor's connections.
func (m *Manager) Close() {
	for _, lb := range m.lockboxes {
		lb.Executor().Close()
	}
}

func tokenLimits(tokens []config.TokenConfig, chainID string) (map[string]TokenLimits, error) {
	out := make(map[string]TokenLimits)
	for _, token := range tokens {
		addr, ok := token.Addresses[chainID]
		if !ok {
			continue
		}
		min, err := utils.ParseAmount(token.MinAmount)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, errs.CodeInvalidConfig,
				"bad min_amount for token "+token.Symbol, err)
		}
		var max *big.Int
		if token.MaxAmount != "" {
			max, err = utils.ParseAmount(token.MaxAmount)
			if err != nil {
				return nil, errs.Wrap(errs.KindConfiguration, errs.CodeInvalidConfig,
					"bad max_amount for token "+token.Symbol, err)
			}
		}
		out[token.Symbol] = TokenLimits{
			Min:      min,
			Max:      max,
			Address:  addr,
			Decimals: token.Decimals,
		}
	}
	return out, nil
}
