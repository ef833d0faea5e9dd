package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
)

// Backend is the subset of ethclient.Client the adapter uses.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config configures the adapter.
type Config struct {
	Contract      common.Address
	Confirmations uint64
	// Topics maps each event kind to its topic0 signature hash.
	Topics map[domain.EventKind]common.Hash
}

// EVMAdapter reads the packet contract through a JSON-RPC node.
type EVMAdapter struct {
	backend       Backend
	contract      common.Address
	confirmations uint64
	topics        map[domain.EventKind]common.Hash
	log           *slog.Logger
}

// Dial connects to the RPC endpoint. When expectedChainID is non-zero the node must
// report the same chain id.
func Dial(ctx context.Context, rpcURL string, expectedChainID uint64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", rpcURL, err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("eth_chainId failed: %w", err)
	}
	if expectedChainID != 0 && id.Uint64() != expectedChainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: node reports %s, expected %d", id, expectedChainID)
	}
	return client, nil
}

func NewEVMAdapter(backend Backend, cfg Config) *EVMAdapter {
	return &EVMAdapter{
		backend:       backend,
		contract:      cfg.Contract,
		confirmations: cfg.Confirmations,
		topics:        cfg.Topics,
		log:           slog.Default(),
	}
}

// GetLatestBlock returns head minus the confirmation depth, floored at zero.
func (a *EVMAdapter) GetLatestBlock(ctx context.Context) (uint64, error) {
	start := time.Now()
	head, err := a.backend.BlockNumber(ctx)
	metrics.RPCLatency.WithLabelValues("eth_blockNumber").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	metrics.ChainHeadBlock.Set(float64(head))
	if head < a.confirmations {
		return 0, nil
	}
	return head - a.confirmations, nil
}

func (a *EVMAdapter) GetBlockHash(ctx context.Context, blockNumber uint64) (string, error) {
	start := time.Now()
	header, err := a.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	metrics.RPCLatency.WithLabelValues("eth_getBlockByNumber").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("eth_getBlockByNumber %d failed: %w", blockNumber, err)
	}
	if header == nil {
		return "", fmt.Errorf("block %d not found", blockNumber)
	}
	return header.Hash().Hex(), nil
}

func (a *EVMAdapter) FilterLogs(ctx context.Context, kind domain.EventKind, from, to uint64) ([]types.Log, error) {
	topic, ok := a.topics[kind]
	if !ok {
		return nil, fmt.Errorf("no topic registered for %s", kind)
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{a.contract},
		Topics:    [][]common.Hash{{topic}},
	}

	start := time.Now()
	logs, err := a.backend.FilterLogs(ctx, query)
	metrics.RPCLatency.WithLabelValues("eth_getLogs").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs %s [%d, %d] failed: %w", kind, from, to, err)
	}
	a.log.Debug("Fetched logs", "kind", kind, "from", from, "to", to, "count", len(logs))
	return logs, nil
}
