package registry

import (
	"time"

	"go-bridge/internal/config"
	"go-bridge/internal/errs"
)

// ChainType distinguishes the two custody models the bridge supports.
type ChainType string

const (
	ChainTypeEVM    ChainType = "evm"    // account-model chains
	ChainTypeLedger ChainType = "ledger" // UTXO/ledger-model chains
)

// ChainInfo holds the immutable per-chain parameters the core consults.
type ChainInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            ChainType `json:"type"`
	Symbol          string    `json:"symbol"`
	RPCEndpoints    []string  `json:"rpc_endpoints"`
	CustodyAddress  string    `json:"custody_address"`
	VerifierAddress string    `json:"verifier_address"`
	Confirmations   uint64    `json:"confirmations"`
	BlockTime       time.Duration
	ExplorerURL     string `json:"explorer_url"`
}

// ChainRegistry is the lookup table of supported chains. It is built once
// from configuration and read-only afterwards.
type ChainRegistry struct {
	byID  map[string]*ChainInfo
	order []string
}

// NewChainRegistry builds the registry from the configured chain list.
func NewChainRegistry(chains []config.ChainConfig) (*ChainRegistry, error) {
	r := &ChainRegistry{byID: make(map[string]*ChainInfo, len(chains))}
	for _, c := range chains {
		if _, exists := r.byID[c.ID]; exists {
			return nil, errs.Newf(errs.KindConfiguration, errs.CodeInvalidConfig, "duplicate chain id: %s", c.ID)
		}
		blockTime := time.Duration(c.BlockTimeMs) * time.Millisecond
		if blockTime <= 0 {
			blockTime = 12 * time.Second
		}
		info := &ChainInfo{
			ID:              c.ID,
			Name:            c.Name,
			Type:            ChainType(c.Type),
			Symbol:          c.Symbol,
			RPCEndpoints:    append([]string(nil), c.RPCEndpoints...),
			CustodyAddress:  c.CustodyAddress,
			VerifierAddress: c.VerifierAddress,
			Confirmations:   c.Confirmations,
			BlockTime:       blockTime,
			ExplorerURL:     c.ExplorerURL,
		}
		r.byID[c.ID] = info
		r.order = append(r.order, c.ID)
	}
	return r, nil
}

// Get returns the chain info for an id.
func (r *ChainRegistry) Get(id string) (*ChainInfo, bool) {
	info, ok := r.byID[id]
	return info, ok
}

// MustGet returns the chain info or an unsupported-chain error.
func (r *ChainRegistry) MustGet(id string) (*ChainInfo, error) {
	info, ok := r.byID[id]
	if !ok {
		return nil, errs.Newf(errs.KindChain, errs.CodeUnsupportedChain, "unsupported chain: %s", id)
	}
	return info, nil
}

// IsSupported reports whether the chain id is registered.
func (r *ChainRegistry) IsSupported(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IsEVM reports whether the chain uses the account model.
func (r *ChainRegistry) IsEVM(id string) bool {
	info, ok := r.byID[id]
	return ok && info.Type == ChainTypeEVM
}

// Confirmations returns the finality threshold for a chain.
func (r *ChainRegistry) Confirmations(id string) (uint64, error) {
	info, err := r.MustGet(id)
	if err != nil {
		return 0, err
	}
	return info.Confirmations, nil
}

// EstimatedFinality returns confirmations × block time for a chain.
func (r *ChainRegistry) EstimatedFinality(id string) (time.Duration, error) {
	info, err := r.MustGet(id)
	if err != nil {
		return 0, err
	}
	return time.Duration(info.Confirmations) * info.BlockTime, nil
}

// RPCEndpoint returns the primary RPC endpoint for a chain.
func (r *ChainRegistry) RPCEndpoint(id string) (string, error) {
	info, err := r.MustGet(id)
	if err != nil {
		return "", err
	}
	if len(info.RPCEndpoints) == 0 {
		return "", errs.Newf(errs.KindChain, errs.CodeChainUnavailable, "no RPC endpoint for chain: %s", id)
	}
	return info.RPCEndpoints[0], nil
}

// All returns the registered chains in configuration order.
func (r *ChainRegistry) All() []*ChainInfo {
	chains := make([]*ChainInfo, 0, len(r.order))
	for _, id := range r.order {
		chains = append(chains, r.byID[id])
	}
	return chains
}
