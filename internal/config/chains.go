package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aristath/liquidity-sentinel/internal/chain"
)

// ParentChainID is the vault's home chain (Base).
const ParentChainID uint64 = 8453

// GasScores rates each chain's gas cost on a 0-10 scale, higher = cheaper.
// Static by design; gas prices move slower than fee yields.
var GasScores = map[uint64]float64{
	8453: 8, // Base
	10:   8, // Optimism
	130:  9, // Unichain
	1:    2, // Mainnet
}

// Registry holds the configured chains, keyed by id.
type Registry struct {
	chains map[uint64]*chain.Spec
}

// Get returns the chain spec, or nil when the id is unknown.
func (r *Registry) Get(id uint64) *chain.Spec {
	return r.chains[id]
}

// All returns every configured chain in ascending id order.
// Deterministic iteration keeps scheduling and tests stable.
func (r *Registry) All() []*chain.Spec {
	out := make([]*chain.Spec, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Parent returns the vault's home chain.
func (r *Registry) Parent() *chain.Spec {
	for _, c := range r.chains {
		if c.Parent {
			return c
		}
	}
	return nil
}

// LoadRegistry builds the chain registry for the given environment.
// Production addresses come from the constants below; development and
// testnet override the project contracts from deployments.<env>.json
// when that file exists.
func LoadRegistry(env Environment) (*Registry, error) {
	chains := defaultChains()

	for _, c := range chains {
		if url := os.Getenv(c.RPCEnv); url != "" {
			c.RPCURL = url
		}
	}

	if env != EnvProduction {
		if err := applyDeployments(chains, fmt.Sprintf("deployments.%s.json", env)); err != nil {
			return nil, err
		}
	}

	byID := make(map[uint64]*chain.Spec, len(chains))
	for _, c := range chains {
		byID[c.ID] = c
	}
	return &Registry{chains: byID}, nil
}

// deploymentFile mirrors the deployment JSON written by the contracts repo.
type deploymentFile struct {
	Chains map[string]chain.Contracts `json:"chains"`
}

func applyDeployments(chains []*chain.Spec, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read deployment file: %w", err)
	}

	var file deploymentFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse deployment file %s: %w", path, err)
	}

	for _, c := range chains {
		dep, ok := file.Chains[fmt.Sprintf("%d", c.ID)]
		if !ok {
			continue
		}
		// Only the project contracts are deployment-specific; the
		// protocol and token addresses stay canonical.
		if dep.Manager != (common.Address{}) {
			c.Contracts.Manager = dep.Manager
		}
		if dep.Vault != (common.Address{}) {
			c.Contracts.Vault = dep.Vault
		}
		if dep.Hook != (common.Address{}) {
			c.Contracts.Hook = dep.Hook
		}
		if c.DefaultPool != nil {
			c.DefaultPool.Hooks = c.Contracts.Hook
		}
	}
	return nil
}

func defaultChains() []*chain.Spec {
	specs := []*chain.Spec{
		{
			ID:       1,
			Name:     "mainnet",
			RPCEnv:   "RPC_MAINNET",
			Excluded: true, // gas policy: never allocate liquidity here
			Contracts: chain.Contracts{
				PoolManager:     common.HexToAddress("0x000000000004444c5dc75cB358380D2e3dE08A90"),
				StateView:       common.HexToAddress("0x7fFE42C4a5DEeA5b0feC41C94C136Cf115597227"),
				Quoter:          common.HexToAddress("0x52F0E24D1c21C8A0cB1e5a5dD6198556BD9E1203"),
				WETH:            common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
				USDC:            common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
				UniversalRouter: common.HexToAddress("0x66a9893cC07D91D95644AEDD05D03f95e1dBA8Af"),
				Manager:         common.HexToAddress("0x9c8f21E5bF6e4a3B7D1C0aD24C9E8B173Fa640a1"),
			},
		},
		{
			ID:     10,
			Name:   "optimism",
			RPCEnv: "RPC_OPTIMISM",
			Contracts: chain.Contracts{
				PoolManager:     common.HexToAddress("0x9a13F98Cb987694C9F086b1F5eB990EeA8264Ec3"),
				StateView:       common.HexToAddress("0xc18a3169788F4F75A170290584ECA6395C75Ecdb"),
				Quoter:          common.HexToAddress("0x1f3131A13296Fb91c90870043742C3cdBfF1a8D7"),
				WETH:            common.HexToAddress("0x4200000000000000000000000000000000000006"),
				USDC:            common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
				UniversalRouter: common.HexToAddress("0x851116D9223fabED8E56C0E6b8Ad0c31d98B3507"),
				Manager:         common.HexToAddress("0x9c8f21E5bF6e4a3B7D1C0aD24C9E8B173Fa6AaA2"),
				Hook:            common.HexToAddress("0x9c8f21E5bF6e4a3B7D1C0aD24C9E8B173Fa6C0c2"),
			},
		},
		{
			ID:     130,
			Name:   "unichain",
			RPCEnv: "RPC_UNICHAIN",
			Contracts: chain.Contracts{
				PoolManager:     common.HexToAddress("0x1F98400000000000000000000000000000000004"),
				StateView:       common.HexToAddress("0x86e8631A016F9068C3f085fAF484Ee3F5fDee8f2"),
				Quoter:          common.HexToAddress("0x333E3C607B141b18fF6de9f258db6e77fE7491E0"),
				WETH:            common.HexToAddress("0x4200000000000000000000000000000000000006"),
				USDC:            common.HexToAddress("0x078D782b760474a361dDA0AF3839290b0EF57AD6"),
				UniversalRouter: common.HexToAddress("0xEf740bf23aCaE26f6492B10de645D6B98dC8Eaf3"),
				Manager:         common.HexToAddress("0x9c8f21E5bF6e4a3B7D1C0aD24C9E8B173Fa6AaA3"),
				Hook:            common.HexToAddress("0x9c8f21E5bF6e4a3B7D1C0aD24C9E8B173Fa6C0c3"),
			},
		},
		{
			ID:     8453,
			Name:   "base",
			RPCEnv: "RPC_BASE",
			Parent: true,
			Contracts: chain.Contracts{
				PoolManager:     common.HexToAddress("0x498581fF718922c3f8e6A244956aF099B2652b2b"),
				StateView:       common.HexToAddress("0xA3c0c9b65baD0b08107Aa264b0f3dB444b867A71"),
				Quoter:          common.HexToAddress("0x0d5e0F971ED27FBfF6c2837bf31316121532048D"),
				WETH:            common.HexToAddress("0x4200000000000000000000000000000000000006"),
				USDC:            common.HexToAddress("0x833589fCB6DF8318C1B92F4b24a9918A428Ef9b2"),
				UniversalRouter: common.HexToAddress("0x6fF5693b99212Da76ad316178A184AB56D299b43"),
				Manager:         common.HexToAddress("0x9c8f21E5bF6e4a3B7D1C0aD24C9E8B173Fa6AaA4"),
				Vault:           common.HexToAddress("0x9c8f21E5bF6e4a3B7D1C0aD24C9E8B173Fa6B0b4"),
				Hook:            common.HexToAddress("0x9c8f21E5bF6e4a3B7D1C0aD24C9E8B173Fa6C0c4"),
			},
		},
	}

	for _, c := range specs {
		c.GasScore = GasScores[c.ID]
		if c.Excluded {
			// Mainnet carries no agent liquidity; no pools configured.
			continue
		}
		c.DefaultPool = &chain.PoolKey{
			Currency0:   chain.NativeCurrency,
			Currency1:   c.Contracts.USDC,
			Fee:         500,
			TickSpacing: 10,
			Hooks:       c.Contracts.Hook,
		}
		c.QueryPool = &chain.PoolKey{
			Currency0:   chain.NativeCurrency,
			Currency1:   c.Contracts.USDC,
			Fee:         3000,
			TickSpacing: 60,
		}
	}

	return specs
}
