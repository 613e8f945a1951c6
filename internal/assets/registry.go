package assets

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// Asset describes one cleared asset and where it lives on source chains.
type Asset struct {
	ID       model.AssetID   `yaml:"id"`
	Symbol   string          `yaml:"symbol"`
	Decimals int             `yaml:"decimals"`
	Chains   []ChainContract `yaml:"chains,omitempty"`
}

type ChainContract struct {
	ChainID  model.ChainID `yaml:"chain_id"`
	Contract string        `yaml:"contract"`
}

type registryFile struct {
	Assets []Asset `yaml:"assets"`
}

// Registry answers "is this asset id cleared here". An open registry (no
// file configured) accepts every id; a loaded registry accepts only the ids
// it lists.
type Registry struct {
	mu     sync.RWMutex
	open   bool
	byID   map[model.AssetID]Asset
	sorted []Asset
}

// Open returns a registry that accepts every asset id.
func Open() *Registry {
	return &Registry{open: true, byID: map[model.AssetID]Asset{}}
}

// Load reads a YAML registry file.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset registry: %w", err)
	}
	return Parse(raw)
}

// Parse builds a registry from YAML bytes.
func Parse(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse asset registry: %w", err)
	}
	if len(file.Assets) == 0 {
		return nil, fmt.Errorf("asset registry lists no assets")
	}

	byID := make(map[model.AssetID]Asset, len(file.Assets))
	for _, a := range file.Assets {
		if a.Symbol == "" {
			return nil, fmt.Errorf("asset %d has no symbol", a.ID)
		}
		if a.Decimals < 0 || a.Decimals > 38 {
			return nil, fmt.Errorf("asset %d (%s) has invalid decimals %d", a.ID, a.Symbol, a.Decimals)
		}
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("asset id %d listed twice", a.ID)
		}
		for _, c := range a.Chains {
			if !strings.HasPrefix(c.Contract, "0x") {
				return nil, fmt.Errorf("asset %d (%s) contract %q on chain %d is not hex", a.ID, a.Symbol, c.Contract, c.ChainID)
			}
		}
		byID[a.ID] = a
	}

	sorted := make([]Asset, 0, len(byID))
	for _, a := range byID {
		sorted = append(sorted, a)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	return &Registry{byID: byID, sorted: sorted}, nil
}

// Known reports whether the asset id is accepted for clearing.
func (r *Registry) Known(id model.AssetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.open {
		return true
	}
	_, ok := r.byID[id]
	return ok
}

// Get returns the asset metadata if listed.
func (r *Registry) Get(id model.AssetID) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// All returns listed assets ordered by id.
func (r *Registry) All() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Asset, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// Symbol returns the display symbol, or the numeric id for unlisted assets.
func (r *Registry) Symbol(id model.AssetID) string {
	if a, ok := r.Get(id); ok {
		return a.Symbol
	}
	return fmt.Sprintf("asset-%d", id)
}
