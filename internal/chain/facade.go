// Package chain implements the Chain Facade (C2): rate-limited, retrying
// access to the prediction-market contract's pull surface, plus a
// separate streaming subscription for the push surface. Structurally
// grounded on the teacher's internal/bitcoin.Client wrapper (a struct
// holding the RPC handle and config, with small focused wrapper
// methods), rebuilt on go-ethereum because the target chain is EVM
// rather than UTXO.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/rawblock/predmarket-engine/pkg/models"
)

// tipLookupTimeout bounds the BlockNumber call BlockByTimestamp makes
// before bisecting, per waitForTip.
const tipLookupTimeout = 10 * time.Second

// Config mirrors the teacher's bitcoin.Config shape: plain fields, no
// hidden defaults beyond what config.Load already applied.
type Config struct {
	RPCURL          string
	RPCWSURL        string
	ContractAddress string
	RateLimitRPS    int
}

// Facade is the engine's sole point of contact with the chain.
type Facade struct {
	cfg      Config
	client   *ethclient.Client
	wsClient *ethclient.Client
	contract common.Address
	abi      abi.ABI
	limiter  *rate.Limiter

	betBullTopic    common.Hash
	betBearTopic    common.Hash
	claimTopic      common.Hash
	startRoundTopic common.Hash
	lockRoundTopic  common.Hash
}

// NewFacade dials the HTTP RPC endpoint and loads the contract ABI. The
// websocket endpoint is dialed lazily in Subscribe so pull-only callers
// (the Historical Pipeline) never pay for it.
func NewFacade(ctx context.Context, cfg Config) (*Facade, error) {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial RPC %s: %w", cfg.RPCURL, err)
	}
	parsedABI, err := loadABI()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: load contract ABI: %w", err)
	}
	f := &Facade{
		cfg:      cfg,
		client:   client,
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsedABI,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS),

		betBullTopic:    parsedABI.Events["BetBull"].ID,
		betBearTopic:    parsedABI.Events["BetBear"].ID,
		claimTopic:      parsedABI.Events["Claim"].ID,
		startRoundTopic: parsedABI.Events["StartRound"].ID,
		lockRoundTopic:  parsedABI.Events["LockRound"].ID,
	}
	return f, nil
}

// Shutdown releases the underlying RPC connections.
func (f *Facade) Shutdown() {
	if f.wsClient != nil {
		f.wsClient.Close()
	}
	f.client.Close()
}

// wait blocks the caller until a rate-limiter slot is free, per §4.2's
// "at most R requests/second on the pull surface; excess callers block".
func (f *Facade) wait(ctx context.Context) error {
	return f.limiter.Wait(ctx)
}

// call makes up to three attempts at op with linear backoff, surfacing
// ChainRequestFailed on permanent failure, per §4.2/§7.
func (f *Facade) call(ctx context.Context, op func() error) error {
	err := retryLinear(ctx, 3, func() error { return op() })
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrChainRequestFailed, err)
	}
	return nil
}

// CurrentEpoch calls currentEpoch() on the contract.
func (f *Facade) CurrentEpoch(ctx context.Context) (int64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	var epoch int64
	err := f.call(ctx, func() error {
		data, err := f.abi.Pack("currentEpoch")
		if err != nil {
			return err
		}
		out, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &f.contract, Data: data}, nil)
		if err != nil {
			return err
		}
		vals, err := f.abi.Unpack("currentEpoch", out)
		if err != nil {
			return err
		}
		epoch = vals[0].(*big.Int).Int64()
		return nil
	})
	return epoch, err
}

// Round calls rounds(epoch) and maps the tuple into a RoundView.
func (f *Facade) Round(ctx context.Context, epoch int64) (models.RoundView, error) {
	if err := f.wait(ctx); err != nil {
		return models.RoundView{}, err
	}
	var view models.RoundView
	err := f.call(ctx, func() error {
		data, err := f.abi.Pack("rounds", big.NewInt(epoch))
		if err != nil {
			return err
		}
		out, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &f.contract, Data: data}, nil)
		if err != nil {
			return err
		}
		vals, err := f.abi.Unpack("rounds", out)
		if err != nil {
			return err
		}
		view = models.RoundView{
			Epoch:          vals[0].(*big.Int).Int64(),
			StartTimestamp: vals[1].(*big.Int).Int64(),
			LockTimestamp:  vals[2].(*big.Int).Int64(),
			CloseTimestamp: vals[3].(*big.Int).Int64(),
			LockPrice:      weiToDecimal(vals[4].(*big.Int), 8),
			ClosePrice:     weiToDecimal(vals[5].(*big.Int), 8),
			TotalAmount:    weiToDecimal(vals[8].(*big.Int), 18),
			BullAmount:     weiToDecimal(vals[9].(*big.Int), 18),
			BearAmount:     weiToDecimal(vals[10].(*big.Int), 18),
		}
		return nil
	})
	return view, err
}

// BlockNumber returns the chain tip.
func (f *Facade) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	var n uint64
	err := f.call(ctx, func() error {
		var err error
		n, err = f.client.BlockNumber(ctx)
		return err
	})
	return n, err
}

// Block fetches a single block's number and timestamp.
func (f *Facade) Block(ctx context.Context, number uint64) (models.Block, error) {
	if err := f.wait(ctx); err != nil {
		return models.Block{}, err
	}
	var b models.Block
	err := f.call(ctx, func() error {
		header, err := f.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		b = models.Block{Number: header.Number.Uint64(), Timestamp: int64(header.Time)}
		return nil
	})
	return b, err
}

// blockTimestamp adapts Block for the bisection helper.
func (f *Facade) blockTimestamp(ctx context.Context, number uint64) (int64, error) {
	b, err := f.Block(ctx, number)
	if err != nil {
		return 0, err
	}
	return b.Timestamp, nil
}

// BlockByTimestamp implements §4.2's bisection search over [1, tip].
func (f *Facade) BlockByTimestamp(ctx context.Context, target int64) (uint64, error) {
	tip, err := f.waitForTip(ctx, tipLookupTimeout)
	if err != nil {
		return 0, err
	}
	return bisectBlockByTimestamp(ctx, tip, target, f.blockTimestamp)
}

// Events fetches BetBull, BetBear, and Claim logs in [fromBlock, toBlock],
// per §4.2's pull-surface `events(from,to)` contract. The three topic
// queries run concurrently, per §4.5 step 5 ("in parallel").
func (f *Facade) Events(ctx context.Context, fromBlock, toBlock uint64) (models.EventRange, error) {
	type result struct {
		kind string
		bet  []models.BetEvent
		clm  []models.ClaimEvent
		err  error
	}
	ch := make(chan result, 3)

	fetchBets := func(kind string, topic common.Hash) {
		if err := f.wait(ctx); err != nil {
			ch <- result{kind: kind, err: err}
			return
		}
		var events []models.BetEvent
		err := f.call(ctx, func() error {
			logs, err := f.filterLogs(ctx, fromBlock, toBlock, topic)
			if err != nil {
				return err
			}
			events = make([]models.BetEvent, 0, len(logs))
			for _, l := range logs {
				ev, err := f.decodeBet(l)
				if err != nil {
					return err
				}
				events = append(events, ev)
			}
			return nil
		})
		ch <- result{kind: kind, bet: events, err: err}
	}

	go fetchBets("bull", f.betBullTopic)
	go fetchBets("bear", f.betBearTopic)
	go func() {
		if err := f.wait(ctx); err != nil {
			ch <- result{kind: "claim", err: err}
			return
		}
		var claims []models.ClaimEvent
		err := f.call(ctx, func() error {
			logs, err := f.filterLogs(ctx, fromBlock, toBlock, f.claimTopic)
			if err != nil {
				return err
			}
			claims = make([]models.ClaimEvent, 0, len(logs))
			for _, l := range logs {
				ev, err := f.decodeClaim(l)
				if err != nil {
					return err
				}
				claims = append(claims, ev)
			}
			return nil
		})
		ch <- result{kind: "claim", clm: claims, err: err}
	}()

	var out models.EventRange
	for i := 0; i < 3; i++ {
		r := <-ch
		if r.err != nil {
			return models.EventRange{}, fmt.Errorf("chain: fetch %s events: %w", r.kind, r.err)
		}
		switch r.kind {
		case "bull":
			out.BetBull = r.bet
		case "bear":
			out.BetBear = r.bet
		case "claim":
			out.Claim = r.clm
		}
	}

	if err := f.attachBlockTimes(ctx, &out); err != nil {
		return models.EventRange{}, fmt.Errorf("chain: attach block times: %w", err)
	}
	return out, nil
}

// attachBlockTimes fills in BlockTime for every event by looking up each
// distinct block number once, so hisbet/claim rows carry a real
// chain-derived timestamp rather than the epoch's start time.
func (f *Facade) attachBlockTimes(ctx context.Context, out *models.EventRange) error {
	cache := make(map[uint64]int64)
	lookup := func(n uint64) (int64, error) {
		if ts, ok := cache[n]; ok {
			return ts, nil
		}
		b, err := f.Block(ctx, n)
		if err != nil {
			return 0, err
		}
		cache[n] = b.Timestamp
		return b.Timestamp, nil
	}
	for i := range out.BetBull {
		ts, err := lookup(out.BetBull[i].BlockNumber)
		if err != nil {
			return err
		}
		out.BetBull[i].BlockTime = ts
	}
	for i := range out.BetBear {
		ts, err := lookup(out.BetBear[i].BlockNumber)
		if err != nil {
			return err
		}
		out.BetBear[i].BlockTime = ts
	}
	for i := range out.Claim {
		ts, err := lookup(out.Claim[i].BlockNumber)
		if err != nil {
			return err
		}
		out.Claim[i].BlockTime = ts
	}
	return nil
}

func (f *Facade) filterLogs(ctx context.Context, fromBlock, toBlock uint64, topic common.Hash) ([]types.Log, error) {
	return f.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{f.contract},
		Topics:    [][]common.Hash{{topic}},
	})
}

// decodeBet unpacks a BetBull/BetBear log: sender and epoch are indexed
// topics, amount is the single non-indexed data word.
func (f *Facade) decodeBet(l types.Log) (models.BetEvent, error) {
	if len(l.Topics) < 3 {
		return models.BetEvent{}, fmt.Errorf("bet log %s: expected 3 topics, got %d", l.TxHash, len(l.Topics))
	}
	vals, err := f.abi.Unpack("BetBull", l.Data)
	if err != nil {
		return models.BetEvent{}, err
	}
	return models.BetEvent{
		Epoch:       new(big.Int).SetBytes(l.Topics[2].Bytes()).Int64(),
		Sender:      strings.ToLower(common.HexToAddress(l.Topics[1].Hex()).Hex()),
		Amount:      weiToDecimal(vals[0].(*big.Int), 18),
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}, nil
}

func (f *Facade) decodeClaim(l types.Log) (models.ClaimEvent, error) {
	if len(l.Topics) < 3 {
		return models.ClaimEvent{}, fmt.Errorf("claim log %s: expected 3 topics, got %d", l.TxHash, len(l.Topics))
	}
	vals, err := f.abi.Unpack("Claim", l.Data)
	if err != nil {
		return models.ClaimEvent{}, err
	}
	return models.ClaimEvent{
		Epoch:       new(big.Int).SetBytes(l.Topics[2].Bytes()).Int64(),
		Sender:      strings.ToLower(common.HexToAddress(l.Topics[1].Hex()).Hex()),
		Amount:      weiToDecimal(vals[0].(*big.Int), 18),
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}, nil
}

// waitForTip bounds a tip lookup with its own timeout, used by
// BlockByTimestamp so a bisection search never hangs waiting on a tip
// read when the caller's own context carries no deadline.
func (f *Facade) waitForTip(ctx context.Context, timeout time.Duration) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return f.BlockNumber(callCtx)
}
