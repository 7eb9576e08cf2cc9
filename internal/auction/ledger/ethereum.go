package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/models"
)

// auctionABI is the subset of the auction contract interface the engine
// needs: the read views plus the three administrative calls.
const auctionABI = `[
	{"inputs":[],"name":"auctionEndTime","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"highestBid","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"highestBidder","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"frozen","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"bondSlashed","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"string","name":"reason","type":"string"}],"name":"freezeAuction","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"unfreezeAuction","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"slashSellerBond","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// EthereumConfig holds connection settings for the ledger client.
type EthereumConfig struct {
	RPCURL string
	// AdminKeyHex signs freeze/unfreeze/slash transactions. Reads work
	// without it.
	AdminKeyHex string
	ChainID     int64
	// CallTimeout bounds every individual ledger round trip.
	CallTimeout time.Duration
	GasLimit    uint64
}

// EthereumClient implements Reader and ContractClient over an Ethereum
// JSON-RPC endpoint.
type EthereumClient struct {
	client      *ethclient.Client
	contractABI abi.ABI
	adminKey    *ecdsa.PrivateKey
	chainID     *big.Int
	callTimeout time.Duration
	gasLimit    uint64
}

// NewEthereumClient dials the RPC endpoint and prepares the contract ABI.
func NewEthereumClient(cfg EthereumConfig) (*EthereumClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(auctionABI))
	if err != nil {
		return nil, fmt.Errorf("parse auction abi: %w", err)
	}

	ec := &EthereumClient{
		client:      client,
		contractABI: parsed,
		chainID:     big.NewInt(cfg.ChainID),
		callTimeout: cfg.CallTimeout,
		gasLimit:    cfg.GasLimit,
	}
	if ec.callTimeout <= 0 {
		ec.callTimeout = 30 * time.Second
	}
	if ec.gasLimit == 0 {
		ec.gasLimit = 200000
	}

	if cfg.AdminKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.AdminKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse admin key: %w", err)
		}
		ec.adminKey = key
	}

	return ec, nil
}

// Close releases the underlying RPC connection.
func (ec *EthereumClient) Close() {
	ec.client.Close()
}

// ReadAuction fetches (endTime, highestBid, highestBidder) for the handle.
func (ec *EthereumClient) ReadAuction(ctx context.Context, handle string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, ec.callTimeout)
	defer cancel()

	addr := common.HexToAddress(handle)

	endBig, err := ec.callUint(ctx, addr, "auctionEndTime")
	if err != nil {
		return Snapshot{}, fmt.Errorf("read auctionEndTime: %w", err)
	}
	bidWei, err := ec.callUint(ctx, addr, "highestBid")
	if err != nil {
		return Snapshot{}, fmt.Errorf("read highestBid: %w", err)
	}
	bidder, err := ec.callAddress(ctx, addr, "highestBidder")
	if err != nil {
		return Snapshot{}, fmt.Errorf("read highestBidder: %w", err)
	}

	snap := Snapshot{
		EndTimeUnix:   endBig.Int64(),
		HighestBid:    WeiToEth(bidWei),
		HighestBidder: models.NoBidder,
	}
	if bidder != (common.Address{}) {
		snap.HighestBidder = bidder.Hex()
	}
	return snap, nil
}

// Freeze calls freezeAuction on the contract. An already-frozen auction is
// reported as TxAlreadyInTargetState and is not an error.
func (ec *EthereumClient) Freeze(ctx context.Context, handle, reason string) (TxResult, error) {
	return ec.transact(ctx, handle, adminCall{
		method:      "freezeAuction",
		args:        []interface{}{reason},
		guardView:   "frozen",
		guardWant:   true,
		description: "freeze",
	})
}

// Unfreeze calls unfreezeAuction. A not-frozen auction is already in the
// target state.
func (ec *EthereumClient) Unfreeze(ctx context.Context, handle string) (TxResult, error) {
	return ec.transact(ctx, handle, adminCall{
		method:      "unfreezeAuction",
		guardView:   "frozen",
		guardWant:   false,
		description: "unfreeze",
	})
}

// Slash calls slashSellerBond. An already-slashed bond is already in the
// target state.
func (ec *EthereumClient) Slash(ctx context.Context, handle string) (TxResult, error) {
	return ec.transact(ctx, handle, adminCall{
		method:      "slashSellerBond",
		guardView:   "bondSlashed",
		guardWant:   true,
		description: "slash",
	})
}

type adminCall struct {
	method      string
	args        []interface{}
	guardView   string
	guardWant   bool
	description string
}

// transact first reads the guard view so a call whose target state already
// holds is accepted idempotently without spending gas, then sends the
// transaction and waits for it to be mined.
func (ec *EthereumClient) transact(ctx context.Context, handle string, call adminCall) (TxResult, error) {
	if ec.adminKey == nil {
		return TxResult{Outcome: TxFailed, Reason: "no admin key configured"},
			fmt.Errorf("%s %s: no admin key configured", call.description, handle)
	}

	ctx, cancel := context.WithTimeout(ctx, ec.callTimeout)
	defer cancel()

	addr := common.HexToAddress(handle)

	already, err := ec.callBool(ctx, addr, call.guardView)
	if err != nil {
		return TxResult{Outcome: TxFailed, Reason: err.Error()},
			fmt.Errorf("%s %s: read %s: %w", call.description, handle, call.guardView, err)
	}
	if already == call.guardWant {
		log.Debug().Str("handle", handle).Str("op", call.description).Msg("ledger already in target state")
		return TxResult{Outcome: TxAlreadyInTargetState}, nil
	}

	opts, err := bind.NewKeyedTransactorWithChainID(ec.adminKey, ec.chainID)
	if err != nil {
		return TxResult{Outcome: TxFailed, Reason: err.Error()},
			fmt.Errorf("%s %s: build transactor: %w", call.description, handle, err)
	}
	opts.Context = ctx
	opts.GasLimit = ec.gasLimit

	contract := bind.NewBoundContract(addr, ec.contractABI, ec.client, ec.client, ec.client)
	tx, err := contract.Transact(opts, call.method, call.args...)
	if err != nil {
		return TxResult{Outcome: TxFailed, Reason: err.Error()},
			fmt.Errorf("%s %s: send transaction: %w", call.description, handle, err)
	}

	receipt, err := bind.WaitMined(ctx, ec.client, tx)
	if err != nil {
		return TxResult{Outcome: TxFailed, TxHash: tx.Hash().Hex(), Reason: err.Error()},
			fmt.Errorf("%s %s: wait for mining: %w", call.description, handle, err)
	}
	if receipt.Status != 1 {
		return TxResult{Outcome: TxFailed, TxHash: tx.Hash().Hex(), Reason: "transaction reverted"},
			fmt.Errorf("%s %s: transaction reverted", call.description, handle)
	}

	log.Info().
		Str("handle", handle).
		Str("op", call.description).
		Str("tx_hash", tx.Hash().Hex()).
		Msg("ledger call mined")
	return TxResult{Outcome: TxApplied, TxHash: tx.Hash().Hex()}, nil
}

func (ec *EthereumClient) call(ctx context.Context, addr common.Address, method string) ([]interface{}, error) {
	data, err := ec.contractABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := ec.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := ec.contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (ec *EthereumClient) callUint(ctx context.Context, addr common.Address, method string) (*big.Int, error) {
	out, err := ec.call(ctx, addr, method)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}

func (ec *EthereumClient) callAddress(ctx context.Context, addr common.Address, method string) (common.Address, error) {
	out, err := ec.call(ctx, addr, method)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}

func (ec *EthereumClient) callBool(ctx context.Context, addr common.Address, method string) (bool, error) {
	out, err := ec.call(ctx, addr, method)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}

// WeiToEth converts a wei amount to ETH rounded to 4 decimal places, the
// precision broadcast to observers.
func WeiToEth(wei *big.Int) float64 {
	if wei == nil || wei.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return math.Round(f*10000) / 10000
}
