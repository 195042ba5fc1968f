package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	ethgo "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rawblock/predmarket-engine/pkg/models"
)

const (
	reconnectBaseDelay = 10 * time.Second
	maxReconnectTries  = 5
)

// Subscribe opens the push surface: a lazy ordered stream of ChainEvent
// variants, per §9's "typed event channel" control-flow pattern. The
// returned channel is closed when ctx is canceled. Reconnect-on-close
// follows §4.2: bounded delay, re-subscribe, re-emit ConnectionStatus,
// capped total attempts before settling at the cap interval (§5).
func (f *Facade) Subscribe(ctx context.Context) (<-chan models.ChainEvent, error) {
	wsClient, err := ethclient.DialContext(ctx, f.cfg.RPCWSURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial websocket RPC %s: %w", f.cfg.RPCWSURL, err)
	}
	f.wsClient = wsClient

	out := make(chan models.ChainEvent, 256)
	go f.runSubscription(ctx, out)
	return out, nil
}

func (f *Facade) runSubscription(ctx context.Context, out chan<- models.ChainEvent) {
	defer close(out)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		logsCh, sub, err := f.subscribeLogs(ctx)
		if err != nil {
			attempts++
			delay := reconnectDelay(attempts)
			log.Printf("[chain] subscribe failed (attempt %d): %v; retrying in %s", attempts, err, delay)
			if !sleepOrDone(ctx, delay) {
				return
			}
			continue
		}

		attempts = 0
		out <- models.ChainEvent{Kind: models.ChainEventConnectionStatus, Connected: true}

		if !f.drainSubscription(ctx, logsCh, sub, out) {
			return
		}
		out <- models.ChainEvent{Kind: models.ChainEventConnectionStatus, Connected: false}
		attempts++
		delay := reconnectDelay(attempts)
		log.Printf("[chain] subscription lost; reconnecting in %s", delay)
		if !sleepOrDone(ctx, delay) {
			return
		}
	}
}

func (f *Facade) subscribeLogs(ctx context.Context) (chan types.Log, ethgo.Subscription, error) {
	query := ethgo.FilterQuery{
		Addresses: []common.Address{f.contract},
		Topics: [][]common.Hash{{
			f.betBullTopic, f.betBearTopic, f.startRoundTopic, f.lockRoundTopic,
		}},
	}
	logsCh := make(chan types.Log, 256)
	sub, err := f.wsClient.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrSubscriptionLost, err)
	}
	return logsCh, sub, nil
}

// drainSubscription forwards decoded events until the subscription ends
// or ctx is canceled. Returns false if the caller should stop entirely
// (ctx canceled), true if it should attempt to reconnect.
func (f *Facade) drainSubscription(ctx context.Context, logsCh chan types.Log, sub ethgo.Subscription, out chan<- models.ChainEvent) bool {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-sub.Err():
			log.Printf("[chain] subscription error: %v", err)
			return true
		case l := <-logsCh:
			ev, ok := f.decodeLiveEvent(l)
			if ok {
				out <- ev
			}
		}
	}
}

func (f *Facade) decodeLiveEvent(l types.Log) (models.ChainEvent, bool) {
	if len(l.Topics) == 0 {
		return models.ChainEvent{}, false
	}
	switch l.Topics[0] {
	case f.betBullTopic, f.betBearTopic:
		if len(l.Topics) < 3 {
			return models.ChainEvent{}, false
		}
		kind := models.ChainEventBetBull
		if l.Topics[0] == f.betBearTopic {
			kind = models.ChainEventBetBear
		}
		eventName := "BetBull"
		if kind == models.ChainEventBetBear {
			eventName = "BetBear"
		}
		vals, err := f.abi.Unpack(eventName, l.Data)
		if err != nil {
			log.Printf("[chain] decode %s: %v", eventName, err)
			return models.ChainEvent{}, false
		}
		return models.ChainEvent{
			Kind:        kind,
			Epoch:       new(big.Int).SetBytes(l.Topics[2].Bytes()).Int64(),
			Sender:      strings.ToLower(common.HexToAddress(l.Topics[1].Hex()).Hex()),
			Amount:      weiToDecimal(vals[0].(*big.Int), 18),
			TxHash:      l.TxHash.Hex(),
			BlockNumber: l.BlockNumber,
		}, true
	case f.startRoundTopic:
		if len(l.Topics) < 2 {
			return models.ChainEvent{}, false
		}
		return models.ChainEvent{
			Kind:       models.ChainEventStartRound,
			RoundEpoch: new(big.Int).SetBytes(l.Topics[1].Bytes()).Int64(),
		}, true
	case f.lockRoundTopic:
		if len(l.Topics) < 2 {
			return models.ChainEvent{}, false
		}
		return models.ChainEvent{
			Kind:       models.ChainEventLockRound,
			RoundEpoch: new(big.Int).SetBytes(l.Topics[1].Bytes()).Int64(),
		}, true
	default:
		return models.ChainEvent{}, false
	}
}

// reconnectDelay grows the base delay linearly up to the attempt cap,
// then holds at the cap interval indefinitely, per §5's "capped total
// attempts (default 5); beyond that, ... continue retrying at the cap
// interval".
func reconnectDelay(attempt int) time.Duration {
	if attempt > maxReconnectTries {
		attempt = maxReconnectTries
	}
	return time.Duration(attempt) * reconnectBaseDelay
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
