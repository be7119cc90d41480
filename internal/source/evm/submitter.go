package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/hashbridge/fusion-resolver/internal/chain"
	"github.com/hashbridge/fusion-resolver/internal/order"
)

const receiptPollInterval = 2 * time.Second

// ErrTxReverted is returned when a mined transaction has a failed
// receipt status.
var ErrTxReverted = errors.New("transaction reverted")

// Submitter signs and submits the resolver's EVM transactions across
// all configured EVM chains with a single key. A mutex serializes
// submissions: one signer must never have two transactions racing on
// the same nonce.
type Submitter struct {
	registry    *chain.Registry
	clients     map[string]TxClient
	key         *ecdsa.PrivateKey
	address     common.Address
	waitTimeout time.Duration
	log         *slog.Logger

	mu sync.Mutex
}

// NewSubmitter builds a submitter from a hex-encoded private key and
// per-chain transaction clients.
func NewSubmitter(privateKeyHex string, registry *chain.Registry, clients map[string]TxClient, waitTimeout time.Duration, log *slog.Logger) (*Submitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse resolver key: %w", err)
	}
	return &Submitter{
		registry:    registry,
		clients:     clients,
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		waitTimeout: waitTimeout,
		log:         log,
	}, nil
}

// Address returns the resolver's EVM address in checksum form.
func (s *Submitter) Address() string {
	return s.address.Hex()
}

// CheckBalanceAndAllowance reads the resolver's token balance and its
// allowance toward the chain's escrow factory.
func (s *Submitter) CheckBalanceAndAllowance(ctx context.Context, chainID, token string, amount *big.Int) (hasBalance, hasAllowance bool, err error) {
	desc, client, err := s.chainFor(chainID)
	if err != nil {
		return false, false, err
	}
	tokenAddr := common.HexToAddress(token)
	factory := common.HexToAddress(desc.EscrowFactory)

	balance, err := s.callUint256(ctx, client, tokenAddr, "balanceOf", s.address)
	if err != nil {
		return false, false, fmt.Errorf("balanceOf: %w", err)
	}
	allowance, err := s.callUint256(ctx, client, tokenAddr, "allowance", s.address, factory)
	if err != nil {
		return false, false, fmt.Errorf("allowance: %w", err)
	}
	return balance.Cmp(amount) >= 0, allowance.Cmp(amount) >= 0, nil
}

// Approve grants the escrow factory an unbounded allowance on token and
// waits for one confirmation.
func (s *Submitter) Approve(ctx context.Context, chainID, token string) (string, error) {
	desc, _, err := s.chainFor(chainID)
	if err != nil {
		return "", err
	}
	data, err := erc20ABI.Pack("approve", common.HexToAddress(desc.EscrowFactory), math.MaxBig256)
	if err != nil {
		return "", fmt.Errorf("pack approve: %w", err)
	}
	txHash, err := s.submit(ctx, chainID, common.HexToAddress(token), new(big.Int), data)
	if err != nil {
		return "", fmt.Errorf("approve %s: %w", token, err)
	}
	s.log.Info("approved escrow factory", "chain_id", chainID, "contract", token, "tx_hash", txHash)
	return txHash, nil
}

// CreateDstEscrow submits the create-destination-escrow call to the
// chain's factory, attaching the safety deposit as the native value,
// and waits for one confirmation.
func (s *Submitter) CreateDstEscrow(ctx context.Context, chainID string, imm order.Immutables, srcCancellation uint64) (string, error) {
	desc, _, err := s.chainFor(chainID)
	if err != nil {
		return "", err
	}
	data, err := escrowFactoryABI.Pack("createDstEscrow",
		toImmutablesTuple(imm),
		new(big.Int).SetUint64(srcCancellation),
	)
	if err != nil {
		return "", fmt.Errorf("pack createDstEscrow: %w", err)
	}
	txHash, err := s.submit(ctx, chainID, common.HexToAddress(desc.EscrowFactory), imm.SafetyDeposit, data)
	if err != nil {
		return "", fmt.Errorf("createDstEscrow: %w", err)
	}
	return txHash, nil
}

// Withdraw submits a withdraw call against an escrow, revealing the
// secret, and waits for one confirmation.
func (s *Submitter) Withdraw(ctx context.Context, chainID, escrow, secret string, imm order.Immutables) (string, error) {
	data, err := escrowABI.Pack("withdraw", common.HexToHash(secret), toImmutablesTuple(imm))
	if err != nil {
		return "", fmt.Errorf("pack withdraw: %w", err)
	}
	txHash, err := s.submit(ctx, chainID, common.HexToAddress(escrow), new(big.Int), data)
	if err != nil {
		return "", fmt.Errorf("withdraw via %s: %w", escrow, err)
	}
	return txHash, nil
}

func (s *Submitter) chainFor(chainID string) (chain.Descriptor, TxClient, error) {
	desc, err := s.registry.Get(chainID)
	if err != nil {
		return chain.Descriptor{}, nil, err
	}
	client, ok := s.clients[chainID]
	if !ok {
		return chain.Descriptor{}, nil, fmt.Errorf("no client for chain %s", chainID)
	}
	return desc, client, nil
}

func (s *Submitter) callUint256(ctx context.Context, client TxClient, contract common.Address, method string, args ...any) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

// submit signs, sends, and waits for one confirmation of a transaction.
// Held under the nonce mutex end to end.
func (s *Submitter) submit(ctx context.Context, chainID string, to common.Address, value *big.Int, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, client, err := s.chainFor(chainID)
	if err != nil {
		return "", err
	}
	numericID, err := strconv.ParseUint(desc.ID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("chain %s: non-numeric evm chain id: %w", desc.ID, err)
	}

	nonce, err := client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice := new(big.Int).Mul(new(big.Int).SetUint64(desc.GasPriceGwei), big.NewInt(params.GWei))
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      desc.GasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(numericID)), s.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	if err := s.waitMined(ctx, client, signed.Hash()); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// waitMined polls for the receipt of txHash. The wait is bounded so one
// stalled chain cannot block the whole resolve cycle.
func (s *Submitter) waitMined(ctx context.Context, client TxClient, txHash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("tx %s: %w", txHash.Hex(), ErrTxReverted)
			}
			return nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for tx %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func toImmutablesTuple(imm order.Immutables) immutablesTuple {
	return immutablesTuple{
		OrderHash:     common.HexToHash(imm.OrderHash),
		Hashlock:      common.HexToHash(imm.Hashlock),
		Maker:         wordFromAddress(imm.Maker),
		Taker:         wordFromAddress(imm.Taker),
		Token:         wordFromAddress(imm.Token),
		Amount:        imm.Amount,
		SafetyDeposit: imm.SafetyDeposit,
		Timelocks:     imm.Timelocks.Big(),
	}
}
