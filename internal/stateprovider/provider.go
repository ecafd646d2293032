// Package stateprovider is the read-only facade over an Ethereum node
// exposing the narrow state surface pricing needs: reserves, slot0 and
// liquidity, bytecode, and block metadata (spec §4.4).
package stateprovider

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// ErrStateUnavailable is returned once every backing endpoint has
// exhausted its retries for a call (spec §7 "Transient RPC").
var ErrStateUnavailable = errors.New("stateprovider: state unavailable across all endpoints")

// Options configures a Provider.
type Options struct {
	Endpoints    []string
	Timeout      time.Duration
	MaxRetries   int
	CacheEntries int
}

// Provider is the RPC-backed StateProvider with per-(method,args,block)
// LRU caching and multi-endpoint fallback (spec §4.4, §5).
type Provider struct {
	clients []*ethclient.Client
	timeout time.Duration
	// retries is the live retry cap, retuned on every Supervisor FSM
	// transition (spec §4.6 state-effects table: Normal 3, Burst 2,
	// Recovery 5). Read with atomic.Int32 since withFallback runs
	// concurrently from every evaluator goroutine.
	retries atomic.Int32
	log     *logrus.Entry

	cache *blockCache

	poolKindMemo sync.Map // common.Address -> types.PoolKind, memoized for process lifetime

	stateUnavailable counterU64
}

// Dial connects to every endpoint in opts.Endpoints (priority order) and
// returns a ready Provider. It fails only if every endpoint is
// unreachable at dial time; an endpoint whose dial fails is logged and
// left out of the Provider, and is not dialed again later.
func Dial(ctx context.Context, opts Options, log *logrus.Entry) (*Provider, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cache, err := newBlockCache(opts.CacheEntries)
	if err != nil {
		return nil, err
	}

	clients := make([]*ethclient.Client, 0, len(opts.Endpoints))
	var lastErr error
	for _, ep := range opts.Endpoints {
		c, derr := ethclient.DialContext(ctx, ep)
		if derr != nil {
			lastErr = derr
			log.WithError(derr).WithField("endpoint", ep).Warn("endpoint dial failed")
			continue
		}
		clients = append(clients, c)
	}
	if len(clients) == 0 {
		return nil, lastErr
	}

	p := &Provider{
		clients: clients,
		timeout: opts.Timeout,
		log:     log,
		cache:   cache,
	}
	p.retries.Store(int32(opts.MaxRetries))
	return p, nil
}

// SetRetryCap retunes the per-endpoint retry cap withFallback applies to
// subsequent calls.
func (p *Provider) SetRetryCap(n int) {
	p.retries.Store(int32(n))
}

// Close releases every backing client connection.
func (p *Provider) Close() {
	for _, c := range p.clients {
		c.Close()
	}
}

// StateUnavailableCount returns how many calls exhausted every endpoint.
func (p *Provider) StateUnavailableCount() uint64 { return p.stateUnavailable.load() }

// withFallback runs fn against each client in priority order, retrying a
// single client up to p.retries times with exponential back-off
// (50ms*2^n, capped at 2s) before moving to the next endpoint (spec
// §4.4 "Fallback"). An error for which isRetryable is false aborts
// immediately; isRetryable is true for every non-nil error, so in
// practice every failure goes through the full retry schedule.
func (p *Provider) withFallback(ctx context.Context, fn func(context.Context, *ethclient.Client) (any, error)) (any, error) {
	var lastErr error
	retries := int(p.retries.Load())
	for _, c := range p.clients {
		for attempt := 0; attempt <= retries; attempt++ {
			callCtx, cancel := context.WithTimeout(ctx, p.timeout)
			v, err := fn(callCtx, c)
			cancel()
			if err == nil {
				return v, nil
			}
			lastErr = err
			if !isRetryable(err) {
				return nil, err
			}
			if attempt < retries {
				backoff := backoffFor(attempt)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}
	p.stateUnavailable.add(1)
	p.log.WithError(lastErr).Warn("all endpoints exhausted")
	return nil, ErrStateUnavailable
}

func backoffFor(attempt int) time.Duration {
	d := 50 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// isRetryable reports whether withFallback retries err. It treats every
// non-nil error as retryable: transport errors from ethclient and the
// decode errors that the Reserves and SlotZeroAndLiquidity closures
// return from inside withFallback alike. No error is classified as
// permanent.
func isRetryable(err error) bool {
	return err != nil
}

func callContract(ctx context.Context, c *ethclient.Client, to common.Address, data []byte, blockNumber uint64) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	var blockArg *big.Int
	if blockNumber != 0 {
		blockArg = new(big.Int).SetUint64(blockNumber)
	}
	return c.CallContract(ctx, msg, blockArg)
}

// Reserves returns the V2 pool reserves and fee (spec §4.4 "reserves").
// feeBps is not on-chain for plain V2 pools (it is a protocol constant);
// the caller supplies it and it is returned unchanged.
func (p *Provider) Reserves(ctx context.Context, pool common.Address, blockNumber uint64, feeBps uint16) (*uint256.Int, *uint256.Int, uint16, error) {
	key := cacheKey{method: "reserves", args: pool.Hex(), block: blockNumber}
	if v, ok := p.cache.get(key); ok {
		r := v.([2]*uint256.Int)
		return r[0], r[1], feeBps, nil
	}

	out, err := p.withFallback(ctx, func(ctx context.Context, c *ethclient.Client) (any, error) {
		raw, err := callContract(ctx, c, pool, getReservesSelector, blockNumber)
		if err != nil {
			return nil, err
		}
		decoded, derr := getReservesReturns.Unpack(raw)
		if derr != nil || len(decoded) != 3 {
			return nil, derr
		}
		r0, ok0 := decoded[0].(*big.Int)
		r1, ok1 := decoded[1].(*big.Int)
		if !ok0 || !ok1 {
			return nil, errDecodeReturn
		}
		u0, _ := uint256.FromBig(r0)
		u1, _ := uint256.FromBig(r1)
		return [2]*uint256.Int{u0, u1}, nil
	})
	if err != nil {
		return nil, nil, 0, err
	}
	pair := out.([2]*uint256.Int)
	p.cache.put(key, pair)
	return pair[0], pair[1], feeBps, nil
}

// SlotZeroAndLiquidity returns the V3 pool's sqrt_price, tick and
// liquidity (spec §4.4 "slot0_and_liquidity").
func (p *Provider) SlotZeroAndLiquidity(ctx context.Context, pool common.Address, blockNumber uint64) (*uint256.Int, int32, *uint256.Int, error) {
	key := cacheKey{method: "slot0liq", args: pool.Hex(), block: blockNumber}
	if v, ok := p.cache.get(key); ok {
		r := v.(slot0Liquidity)
		return r.sqrtPriceX96, r.tick, r.liquidity, nil
	}

	out, err := p.withFallback(ctx, func(ctx context.Context, c *ethclient.Client) (any, error) {
		slot0Raw, err := callContract(ctx, c, pool, slot0Selector, blockNumber)
		if err != nil {
			return nil, err
		}
		slot0Decoded, derr := slot0Returns.Unpack(slot0Raw)
		if derr != nil || len(slot0Decoded) != 7 {
			return nil, derr
		}
		sqrtPrice, ok0 := slot0Decoded[0].(*big.Int)
		tick, ok1 := slot0Decoded[1].(*big.Int)
		if !ok0 || !ok1 {
			return nil, errDecodeReturn
		}

		liqRaw, err := callContract(ctx, c, pool, liquiditySelector, blockNumber)
		if err != nil {
			return nil, err
		}
		liqDecoded, derr := liquidityReturns.Unpack(liqRaw)
		if derr != nil || len(liqDecoded) != 1 {
			return nil, derr
		}
		liq, okL := liqDecoded[0].(*big.Int)
		if !okL {
			return nil, errDecodeReturn
		}

		sp, _ := uint256.FromBig(sqrtPrice)
		lq, _ := uint256.FromBig(liq)
		return slot0Liquidity{sqrtPriceX96: sp, tick: int32(tick.Int64()), liquidity: lq}, nil
	})
	if err != nil {
		return nil, 0, nil, err
	}
	r := out.(slot0Liquidity)
	p.cache.put(key, r)
	return r.sqrtPriceX96, r.tick, r.liquidity, nil
}

type slot0Liquidity struct {
	sqrtPriceX96 *uint256.Int
	tick         int32
	liquidity    *uint256.Int
}

var errDecodeReturn = errors.New("stateprovider: unexpected return shape")

// PoolKind infers V2 vs V3 from bytecode fingerprint, memoized for the
// process lifetime (spec §4.4 "pool_kind").
func (p *Provider) PoolKind(ctx context.Context, pool common.Address) (types.PoolKind, error) {
	if v, ok := p.poolKindMemo.Load(pool); ok {
		return v.(types.PoolKind), nil
	}

	code, err := p.Code(ctx, pool, 0)
	if err != nil {
		return types.PoolUnknown, err
	}
	kind := classifyPoolBytecode(code)
	p.poolKindMemo.Store(pool, kind)
	return kind, nil
}

// BlockHeader returns (hash, parent_hash, timestamp) for a block (spec
// §4.4 "block_header").
func (p *Provider) BlockHeader(ctx context.Context, blockNumber uint64) (common.Hash, common.Hash, uint64, error) {
	out, err := p.withFallback(ctx, func(ctx context.Context, c *ethclient.Client) (any, error) {
		hdr, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return nil, err
		}
		return hdr, nil
	})
	if err != nil {
		return common.Hash{}, common.Hash{}, 0, err
	}
	hdr := out.(*gethtypes.Header)
	return hdr.Hash(), hdr.ParentHash, hdr.Time, nil
}

// LatestBlockNumber returns the chain head's block number, used once at
// startup to seed WatchBlocks.
func (p *Provider) LatestBlockNumber(ctx context.Context) (uint64, error) {
	out, err := p.withFallback(ctx, func(ctx context.Context, c *ethclient.Client) (any, error) {
		return c.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		return 0, err
	}
	return out.(*gethtypes.Header).Number.Uint64(), nil
}

// WatchBlocks polls sequentially increasing block numbers starting at
// startBlock and publishes each one's full header to out via
// BlockHeader, populating the (block_number, block_hash, parent_hash,
// timestamp) tuple the block stream is required to carry (spec §6) and
// the Supervisor's reorg check needs (spec §4.3). A block not yet mined
// is silently retried on the next tick. It returns when ctx is canceled.
func (p *Provider) WatchBlocks(ctx context.Context, startBlock uint64, interval time.Duration, out chan<- types.BlockContext) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	next := startBlock
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hash, parent, ts, err := p.BlockHeader(ctx, next)
			if err != nil {
				continue
			}
			select {
			case out <- types.BlockContext{Number: next, Hash: hash, ParentHash: parent, Timestamp: ts}:
			case <-ctx.Done():
				return
			}
			next++
		}
	}
}

// Code returns the bytecode at address, at an optional block_number (0
// means latest) (spec §4.4 "code").
func (p *Provider) Code(ctx context.Context, address common.Address, blockNumber uint64) ([]byte, error) {
	key := cacheKey{method: "code", args: address.Hex(), block: blockNumber}
	if v, ok := p.cache.get(key); ok {
		return v.([]byte), nil
	}
	out, err := p.withFallback(ctx, func(ctx context.Context, c *ethclient.Client) (any, error) {
		var blockArg *big.Int
		if blockNumber != 0 {
			blockArg = new(big.Int).SetUint64(blockNumber)
		}
		return c.CodeAt(ctx, address, blockArg)
	})
	if err != nil {
		return nil, err
	}
	code := out.([]byte)
	p.cache.put(key, code)
	return code, nil
}

// InvalidateFrom evicts every cache entry at or after blockNumber, called
// by the Supervisor on an observed reorg (spec §4.4 "Caching").
func (p *Provider) InvalidateFrom(blockNumber uint64) int {
	return p.cache.evictFrom(blockNumber)
}
