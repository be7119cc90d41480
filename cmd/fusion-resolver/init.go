package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1

global:
  db_path: resolver.db
  ingest_interval: 5s
  resolve_interval: 1s
  confirmation_timeout: 90s

chains:
  - id: "11155111"
    name: Sepolia
    type: evm
    rpc_url: ${SEPOLIA_RPC_URL}
    escrow_factory: "0x5dd45E5C4F8cC9eF4102A4b59cD8C99dc179dCDf"
    start_block: 89022290
    scan_window: 100
    process_delay: 2
    safety_deposit: "10000000000"
    decimals: 18
    gas_limit: 6000000
    gas_price_gwei: 10
  - id: sui-testnet
    name: Sui Testnet
    type: sui
    rpc_url: https://fullnode.testnet.sui.io:443
    escrow_factory: "0xd0cfb90578f475"
    start_block: 44266130
    scan_window: 100
    safety_deposit: "10000000000"
    decimals: 9

resolver:
  private_key: ${RESOLVER_PRIVATE_KEY}

api:
  listen_addr: ":8081"

alerts:
  webhook_url: ""
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("refusing to overwrite %s", cfgPath)
		}
		if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
		fmt.Fprintln(cmd.OutOrStdout(), "set SEPOLIA_RPC_URL and RESOLVER_PRIVATE_KEY in the environment or a .env file")
		return nil
	},
}
