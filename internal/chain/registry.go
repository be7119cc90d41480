// Package chain holds the static registry of chain descriptors. The
// registry is built once at startup from configuration and is read-only
// afterwards; every other component looks chains up here by chain id.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Family is the structural family a chain belongs to. Adapters are
// implemented per family, not per chain.
type Family string

const (
	FamilyEVM Family = "evm"
	FamilySui Family = "sui"
)

// ParseFamily maps a config string to a Family.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(s) {
	case "evm":
		return FamilyEVM, nil
	case "sui":
		return FamilySui, nil
	default:
		return "", fmt.Errorf("unsupported chain family: %s", s)
	}
}

// Descriptor describes one supported chain. Immutable after load.
type Descriptor struct {
	ID            string
	Name          string
	Family        Family
	RPCURL        string
	EscrowFactory string
	StartBlock    uint64
	ScanWindow    uint64
	ProcessDelay  uint64
	SafetyDeposit *big.Int
	Decimals      int
	GasLimit      uint64
	GasPriceGwei  uint64
}

// Registry is the lookup table of supported chains, keyed by chain id.
type Registry struct {
	byID map[string]Descriptor
}

// NewRegistry validates descriptors and builds the lookup table.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, errors.New("at least one chain is required")
	}
	byID := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("chain %s: %w", d.ID, err)
		}
		if _, exists := byID[d.ID]; exists {
			return nil, fmt.Errorf("duplicate chain id: %s", d.ID)
		}
		byID[d.ID] = d
	}
	return &Registry{byID: byID}, nil
}

func (d Descriptor) validate() error {
	if d.ID == "" {
		return errors.New("id is required")
	}
	if d.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if d.EscrowFactory == "" {
		return errors.New("escrow_factory is required")
	}
	if d.ScanWindow == 0 {
		return errors.New("scan_window must be positive")
	}
	if d.SafetyDeposit == nil || d.SafetyDeposit.Sign() < 0 {
		return errors.New("safety_deposit must be a non-negative amount")
	}
	switch d.Family {
	case FamilyEVM:
		if d.GasLimit == 0 {
			return errors.New("gas_limit is required for evm chains")
		}
	case FamilySui:
	default:
		return fmt.Errorf("unsupported family: %s", d.Family)
	}
	return nil
}

// Get returns the descriptor for a chain id.
func (r *Registry) Get(chainID string) (Descriptor, error) {
	d, ok := r.byID[chainID]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown chain id: %s", chainID)
	}
	return d, nil
}

// All returns every registered descriptor.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	return out
}
