// Package registry holds the static chain and asset configuration loaded at startup.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed chains.yaml
var defaultChains []byte

// Chain kinds understood by the handler registry
const (
	KindEVM       = "evm"
	KindStellar   = "stellar"
	KindSui       = "sui"
	KindSolana    = "solana"
	KindInjective = "injective"
	KindNear      = "near"
	KindIcon      = "icon"
)

// DepositAssetsFromDestination makes deposits render with the destination chain's asset table
const DepositAssetsFromDestination = "destination"

// Asset describes a token known on a chain
type Asset struct {
	Name     string `yaml:"name"`
	Decimals int32  `yaml:"decimals"`
}

// Chain holds per-network configuration
type Chain struct {
	ID                 string           `yaml:"id"`
	Aliases            []string         `yaml:"aliases"`
	Kind               string           `yaml:"kind"`
	RPCURL             string           `yaml:"rpc_url"`
	Denom              string           `yaml:"denom"`
	DefaultGasPriceWei string           `yaml:"default_gas_price_wei"`
	AssetManager       string           `yaml:"asset_manager"`
	DepositAssetsFrom  string           `yaml:"deposit_assets_from"`
	HashedPayload      bool             `yaml:"hashed_payload"`
	Contract           string           `yaml:"contract"`
	Assets             map[string]Asset `yaml:"assets"`
}

// IsAssetManager reports whether addr is this chain's asset manager
func (c *Chain) IsAssetManager(addr string) bool {
	return c.AssetManager != "" && addr != "" && strings.EqualFold(c.AssetManager, addr)
}

// Asset looks up a token by address, case-insensitively
func (c *Chain) Asset(addr string) (Asset, bool) {
	a, ok := c.Assets[strings.ToLower(addr)]
	return a, ok
}

type document struct {
	Chains []Chain `yaml:"chains"`
}

// Registry indexes chains by id and alias. It is read-only after construction.
type Registry struct {
	chains []*Chain
	byKey  map[string]*Chain
}

// Default parses the embedded chain registry
func Default() (*Registry, error) {
	return Parse(defaultChains)
}

// Load reads the registry from path, or the embedded default when path is empty
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Parse(content)
}

// Parse decodes a registry document, expanding ${VAR} references from the environment
func Parse(content []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	reg := &Registry{byKey: make(map[string]*Chain)}
	for i := range doc.Chains {
		chain := &doc.Chains[i]
		if chain.ID == "" {
			return nil, fmt.Errorf("chain %d has no id", i)
		}

		assets := make(map[string]Asset, len(chain.Assets))
		for addr, asset := range chain.Assets {
			assets[strings.ToLower(addr)] = asset
		}
		chain.Assets = assets

		for _, key := range append([]string{chain.ID}, chain.Aliases...) {
			if _, dup := reg.byKey[key]; dup {
				return nil, fmt.Errorf("duplicate chain key %q", key)
			}
			reg.byKey[key] = chain
		}
		reg.chains = append(reg.chains, chain)
	}

	return reg, nil
}

// Chain returns the chain registered under id or one of its aliases
func (r *Registry) Chain(id string) (*Chain, bool) {
	c, ok := r.byKey[id]
	return c, ok
}

// Chains returns all chains in document order
func (r *Registry) Chains() []*Chain {
	return r.chains
}

// Keys returns every id and alias, sorted
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssetManagers returns every configured asset manager address
func (r *Registry) AssetManagers() []string {
	var out []string
	for _, c := range r.chains {
		if c.AssetManager != "" {
			out = append(out, c.AssetManager)
		}
	}
	return out
}

// DepositAssets returns the asset table used to render deposits from src to dst
func (r *Registry) DepositAssets(src, dst string) *Chain {
	srcChain, ok := r.Chain(src)
	if !ok {
		return nil
	}
	if srcChain.DepositAssetsFrom == DepositAssetsFromDestination {
		if dstChain, ok := r.Chain(dst); ok {
			return dstChain
		}
	}
	return srcChain
}
