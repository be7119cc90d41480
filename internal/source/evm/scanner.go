package evm

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hashbridge/fusion-resolver/internal/chain"
	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/timelock"
)

// Scanner fetches and decodes escrow-creation events from one EVM
// chain's factory contract.
type Scanner struct {
	client  BlockClient
	desc    chain.Descriptor
	factory common.Address
}

// NewScanner builds a scanner for a chain descriptor.
func NewScanner(client BlockClient, desc chain.Descriptor) *Scanner {
	return &Scanner{
		client:  client,
		desc:    desc,
		factory: common.HexToAddress(desc.EscrowFactory),
	}
}

// Scan fetches factory logs in (from, min(from+maxWindow, head)] and
// decodes them into normalized events. The returned position is the new
// exclusive lower bound for the next window; when the chain head is
// behind the cursor it equals from and no events are returned. Scan
// never mutates the cursor: advancing it is the caller's decision, made
// only after the batch has been applied.
func (s *Scanner) Scan(ctx context.Context, from, maxWindow uint64) ([]order.Event, uint64, error) {
	latest, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, from, fmt.Errorf("latest header: %w", err)
	}
	head := latest.Number.Uint64()
	// processDelay keeps the window a few blocks behind the tip so
	// shallow reorgs do not feed events that later disappear.
	if s.desc.ProcessDelay >= head {
		return nil, from, nil
	}
	head -= s.desc.ProcessDelay

	if from > head {
		return nil, from, nil
	}
	to := from + maxWindow
	if to > head {
		to = head
	}

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.factory},
		Topics:    [][]common.Hash{{srcEscrowCreatedTopic, dstEscrowCreatedTopic}},
	})
	if err != nil {
		return nil, from, fmt.Errorf("filter logs: %w", err)
	}

	timestamps := map[uint64]uint64{}
	events := make([]order.Event, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		ts, err := s.blockTimestamp(ctx, lg.BlockNumber, timestamps)
		if err != nil {
			return nil, from, err
		}
		meta := order.EventMeta{
			ChainID:   s.desc.ID,
			TxHash:    lg.TxHash.Hex(),
			Timestamp: ts,
		}
		switch lg.Topics[0] {
		case srcEscrowCreatedTopic:
			ev, err := decodeSrcEscrowCreated(lg, meta)
			if err != nil {
				return nil, from, err
			}
			events = append(events, ev)
		case dstEscrowCreatedTopic:
			ev, err := decodeDstEscrowCreated(lg, meta)
			if err != nil {
				return nil, from, err
			}
			events = append(events, ev)
		}
	}

	return events, to, nil
}

func (s *Scanner) blockTimestamp(ctx context.Context, number uint64, cache map[uint64]uint64) (uint64, error) {
	if ts, ok := cache[number]; ok {
		return ts, nil
	}
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}
	cache[number] = header.Time
	return header.Time, nil
}

func decodeSrcEscrowCreated(lg types.Log, meta order.EventMeta) (order.SrcEscrowCreated, error) {
	out, err := escrowFactoryABI.Unpack("SrcEscrowCreated", lg.Data)
	if err != nil {
		return order.SrcEscrowCreated{}, fmt.Errorf("unpack SrcEscrowCreated: %w", err)
	}
	imm := *abi.ConvertType(out[0], new(immutablesTuple)).(*immutablesTuple)
	escrow := *abi.ConvertType(out[1], new(common.Address)).(*common.Address)

	tl, err := timelock.FromBig(imm.Timelocks)
	if err != nil {
		return order.SrcEscrowCreated{}, fmt.Errorf("SrcEscrowCreated timelocks: %w", err)
	}

	return order.SrcEscrowCreated{
		EventMeta:     meta,
		OrderHash:     common.Hash(imm.OrderHash).Hex(),
		Hashlock:      common.Hash(imm.Hashlock).Hex(),
		Maker:         addressFromWord(imm.Maker),
		Taker:         addressFromWord(imm.Taker),
		Token:         addressFromWord(imm.Token),
		Amount:        imm.Amount,
		SafetyDeposit: imm.SafetyDeposit,
		Timelocks:     tl,
		Escrow:        escrow.Hex(),
	}, nil
}

func decodeDstEscrowCreated(lg types.Log, meta order.EventMeta) (order.DstEscrowCreated, error) {
	out, err := escrowFactoryABI.Unpack("DstEscrowCreated", lg.Data)
	if err != nil {
		return order.DstEscrowCreated{}, fmt.Errorf("unpack DstEscrowCreated: %w", err)
	}
	orderHash := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	escrow := *abi.ConvertType(out[1], new(common.Address)).(*common.Address)
	hashlock := *abi.ConvertType(out[2], new([32]byte)).(*[32]byte)
	taker := abi.ConvertType(out[3], new(big.Int)).(*big.Int)
	tlWord := abi.ConvertType(out[4], new(big.Int)).(*big.Int)

	tl, err := timelock.FromBig(tlWord)
	if err != nil {
		return order.DstEscrowCreated{}, fmt.Errorf("DstEscrowCreated timelocks: %w", err)
	}

	return order.DstEscrowCreated{
		EventMeta: meta,
		OrderHash: common.Hash(orderHash).Hex(),
		Escrow:    escrow.Hex(),
		Hashlock:  common.Hash(hashlock).Hex(),
		Taker:     addressFromWord(taker),
		Timelocks: tl,
	}, nil
}
