package health

import (
	"context"

	"github.com/hashbridge/fusion-resolver/internal/source/evm"
)

// RPCChecker pings every configured EVM endpoint. Sui endpoints are not
// checked until the Sui adapter exists.
type RPCChecker struct {
	evmClients map[string]evm.BlockClient
}

// NewRPCChecker creates a checker over the scanner clients.
func NewRPCChecker(evmClients map[string]evm.BlockClient) *RPCChecker {
	return &RPCChecker{evmClients: evmClients}
}

// Probe checks all configured RPC endpoints, one result per chain id.
func (c *RPCChecker) Probe(ctx context.Context) map[string]error {
	out := make(map[string]error, len(c.evmClients))
	for id, cli := range c.evmClients {
		_, err := cli.HeaderByNumber(ctx, nil)
		out[id] = err
	}
	return out
}
