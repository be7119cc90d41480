package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Canonical event signatures emitted by the escrow factory. The topic
// hashes are what the log filter matches on.
const (
	srcEscrowCreatedSig = "SrcEscrowCreated((bytes32,bytes32,uint256,uint256,uint256,uint256,uint256,uint256),address)"
	dstEscrowCreatedSig = "DstEscrowCreated(bytes32,address,bytes32,uint256,uint256)"
)

var (
	srcEscrowCreatedTopic = crypto.Keccak256Hash([]byte(srcEscrowCreatedSig))
	dstEscrowCreatedTopic = crypto.Keccak256Hash([]byte(dstEscrowCreatedSig))
)

// The factory ABI packs addresses as uint256 words inside the
// immutables tuple; decoding must mask them back down to 160 bits.
const escrowFactoryABIJSON = `[
  {"type":"event","name":"SrcEscrowCreated","anonymous":false,"inputs":[
    {"name":"srcImmutables","type":"tuple","indexed":false,"components":[
      {"name":"orderHash","type":"bytes32"},
      {"name":"hashlock","type":"bytes32"},
      {"name":"maker","type":"uint256"},
      {"name":"taker","type":"uint256"},
      {"name":"token","type":"uint256"},
      {"name":"amount","type":"uint256"},
      {"name":"safetyDeposit","type":"uint256"},
      {"name":"timelocks","type":"uint256"}
    ]},
    {"name":"escrow","type":"address","indexed":false}
  ]},
  {"type":"event","name":"DstEscrowCreated","anonymous":false,"inputs":[
    {"name":"orderHash","type":"bytes32","indexed":false},
    {"name":"escrow","type":"address","indexed":false},
    {"name":"hashlock","type":"bytes32","indexed":false},
    {"name":"taker","type":"uint256","indexed":false},
    {"name":"timelocks","type":"uint256","indexed":false}
  ]},
  {"type":"function","name":"createDstEscrow","stateMutability":"payable","inputs":[
    {"name":"dstImmutables","type":"tuple","components":[
      {"name":"orderHash","type":"bytes32"},
      {"name":"hashlock","type":"bytes32"},
      {"name":"maker","type":"uint256"},
      {"name":"taker","type":"uint256"},
      {"name":"token","type":"uint256"},
      {"name":"amount","type":"uint256"},
      {"name":"safetyDeposit","type":"uint256"},
      {"name":"timelocks","type":"uint256"}
    ]},
    {"name":"srcCancellationTimestamp","type":"uint256"}
  ],"outputs":[]}
]`

const escrowABIJSON = `[
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
    {"name":"secret","type":"bytes32"},
    {"name":"immutables","type":"tuple","components":[
      {"name":"orderHash","type":"bytes32"},
      {"name":"hashlock","type":"bytes32"},
      {"name":"maker","type":"uint256"},
      {"name":"taker","type":"uint256"},
      {"name":"token","type":"uint256"},
      {"name":"amount","type":"uint256"},
      {"name":"safetyDeposit","type":"uint256"},
      {"name":"timelocks","type":"uint256"}
    ]}
  ],"outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},{"name":"spender","type":"address"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
    {"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
    "outputs":[{"name":"","type":"bool"}]}
]`

var (
	escrowFactoryABI = mustParseABI(escrowFactoryABIJSON)
	escrowABI        = mustParseABI(escrowABIJSON)
	erc20ABI         = mustParseABI(erc20ABIJSON)
)

func mustParseABI(body string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(body))
	if err != nil {
		panic(err)
	}
	return parsed
}

// immutablesTuple mirrors the factory's immutables struct for ABI
// packing and unpacking. Field names must match the ABI component names.
type immutablesTuple struct {
	OrderHash     [32]byte
	Hashlock      [32]byte
	Maker         *big.Int
	Taker         *big.Int
	Token         *big.Int
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     *big.Int
}

// addressFromWord masks a uint256-packed address down to its low 160
// bits and re-applies EIP-55 checksum casing.
func addressFromWord(w *big.Int) string {
	return common.BigToAddress(w).Hex()
}

// wordFromAddress widens a hex address to the uint256 word the factory
// tuple expects.
func wordFromAddress(addr string) *big.Int {
	return new(big.Int).SetBytes(common.HexToAddress(addr).Bytes())
}
