package actions

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// fakeAdapter is a scriptable chain.Adapter for definition tests.
type fakeAdapter struct {
	ticks         map[common.Hash]int32
	slot0         *chain.Slot0
	nativeBalance *big.Int
	erc20Balance  *big.Int
	vaultBalance  *big.Int
	positions     []chain.Position
	swapQuote     *chain.SwapQuote
	bridgeQuote   *chain.BridgeQuote

	receipt      *types.Receipt
	receiptErr   error
	depositEvent *chain.DepositEvent

	submitted []string
	submitErr error
}

func (f *fakeAdapter) CurrentTick(ctx context.Context, chainID uint64, poolID common.Hash) (int32, error) {
	return f.ticks[poolID], nil
}

func (f *fakeAdapter) Slot0(ctx context.Context, chainID uint64, poolID common.Hash) (*chain.Slot0, error) {
	return f.slot0, nil
}

func (f *fakeAdapter) Liquidity(ctx context.Context, chainID uint64, poolID common.Hash) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeAdapter) FeeGrowthGlobals(ctx context.Context, chainID uint64, poolID common.Hash) (*chain.FeeGrowth, error) {
	return &chain.FeeGrowth{Global0: big.NewInt(0), Global1: big.NewInt(0)}, nil
}

func (f *fakeAdapter) BalanceNative(ctx context.Context, chainID uint64, addr common.Address) (*big.Int, error) {
	return f.nativeBalance, nil
}

func (f *fakeAdapter) BalanceERC20(ctx context.Context, chainID uint64, token, addr common.Address) (*big.Int, error) {
	return f.erc20Balance, nil
}

func (f *fakeAdapter) VaultBalance(ctx context.Context, chainID uint64) (*big.Int, error) {
	return f.vaultBalance, nil
}

func (f *fakeAdapter) PositionsOfManager(ctx context.Context, chainID uint64) ([]chain.Position, error) {
	return f.positions, nil
}

func (f *fakeAdapter) QuoteSwap(ctx context.Context, req chain.SwapQuoteRequest) (*chain.SwapQuote, error) {
	return f.swapQuote, nil
}

func (f *fakeAdapter) QuoteCrossChain(ctx context.Context, req chain.BridgeQuoteRequest) (*chain.BridgeQuote, error) {
	return f.bridgeQuote, nil
}

func (f *fakeAdapter) submitTx(kind string) (common.Hash, error) {
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.submitted = append(f.submitted, kind)
	return common.HexToHash("0x01"), nil
}

func (f *fakeAdapter) SubmitDeposit(ctx context.Context, chainID uint64, key chain.PoolKey, tickLower, tickUpper int32, ethAmount, usdcAmount *big.Int) (common.Hash, error) {
	return f.submitTx("deposit")
}

func (f *fakeAdapter) SubmitWithdraw(ctx context.Context, chainID uint64, key chain.PoolKey, tickLower, tickUpper int32, liquidity *big.Int) (common.Hash, error) {
	return f.submitTx("withdraw")
}

func (f *fakeAdapter) SubmitVaultWithdraw(ctx context.Context, chainID uint64, amount *big.Int) (common.Hash, error) {
	return f.submitTx("vault_withdraw")
}

func (f *fakeAdapter) SubmitSwap(ctx context.Context, chainID uint64, key chain.PoolKey, zeroForOne bool, amountIn, minOut *big.Int) (common.Hash, error) {
	return f.submitTx("swap")
}

func (f *fakeAdapter) SubmitBridge(ctx context.Context, chainID uint64, quote *chain.BridgeQuote, amount *big.Int) (common.Hash, error) {
	return f.submitTx("bridge")
}

func (f *fakeAdapter) GetReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error) {
	return f.receipt, f.receiptErr
}

func (f *fakeAdapter) DecodeDeposit(receipt *types.Receipt) (*chain.DepositEvent, error) {
	if f.depositEvent == nil {
		return nil, errors.New("no deposit event in receipt")
	}
	return f.depositEvent, nil
}

// sqrtForPrice returns the sqrtPriceX96 for a human ETH/USDC price.
func sqrtForPrice(usdPerEth float64) *big.Int {
	raw := usdPerEth / 1e12
	f := new(big.Float).Mul(
		big.NewFloat(math.Sqrt(raw)),
		new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96)))
	v, _ := f.Int(nil)
	return v
}

func testSpec() *chain.Spec {
	hook := common.HexToAddress("0x0000000000000000000000000000000000000a00")
	usdc := common.HexToAddress("0x0000000000000000000000000000000000000b00")
	return &chain.Spec{
		ID:     8453,
		Name:   "base",
		Parent: true,
		Contracts: chain.Contracts{
			Manager: common.HexToAddress("0x0000000000000000000000000000000000000c00"),
			Vault:   common.HexToAddress("0x0000000000000000000000000000000000000d00"),
			USDC:    usdc,
		},
		DefaultPool: &chain.PoolKey{
			Currency1:   usdc,
			Fee:         500,
			TickSpacing: 10,
			Hooks:       hook,
		},
		QueryPool: &chain.PoolKey{
			Currency1:   usdc,
			Fee:         3000,
			TickSpacing: 60,
		},
	}
}

// eth converts a float ether amount to wei.
func eth(v float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(1e18)).Int(nil)
	return wei
}

// usdc converts a float dollar amount to USDC units.
func usdc(v float64) *big.Int {
	units, _ := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(1e6)).Int(nil)
	return units
}

func testDeps(adapter *fakeAdapter) Deps {
	return Deps{Adapter: adapter, Spec: testSpec(), Log: zerolog.Nop()}
}

func TestVaultSyncGate(t *testing.T) {
	adapter := &fakeAdapter{vaultBalance: big.NewInt(500)}
	v := NewVaultSync(testDeps(adapter), big.NewInt(1000))

	ok, err := v.ShouldStart(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok, "balance below the reserve must not fire")

	adapter.vaultBalance = big.NewInt(1001)
	ok, err = v.ShouldStart(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVaultSyncLifecycle(t *testing.T) {
	adapter := &fakeAdapter{vaultBalance: eth(1.5)}
	v := NewVaultSync(testDeps(adapter), nil)

	task, reason, err := v.Start(context.Background(), nil, false)
	require.NoError(t, err)
	require.NotNil(t, task, reason)
	assert.Equal(t, tasks.StatusPreStart, task.Status)

	// First update submits the withdraw and records the hash.
	running, err := v.Update(context.Background(), *task)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusRunning, running.Status)
	assert.Equal(t, []string{"vault_withdraw"}, adapter.submitted)

	var data vaultSyncData
	require.NoError(t, running.DecodeData(&data))
	require.NotNil(t, data.Hash)

	// Second update sees the mined receipt.
	adapter.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	done, err := v.Update(context.Background(), running)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, done.Status)
	assert.Contains(t, done.StatusMessage, "1.500000 ETH")
}

func TestAddLiquidityGate(t *testing.T) {
	adapter := &fakeAdapter{
		slot0: &chain.Slot0{SqrtPriceX96: sqrtForPrice(2000)},
	}
	a := NewAddLiquidity(testDeps(adapter), 5)

	t.Run("balanced and funded", func(t *testing.T) {
		adapter.nativeBalance = eth(0.01) // $20
		adapter.erc20Balance = usdc(25)
		ok, err := a.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("one side too small", func(t *testing.T) {
		adapter.nativeBalance = eth(0.004) // $8
		adapter.erc20Balance = usdc(9)
		ok, err := a.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("imbalanced", func(t *testing.T) {
		adapter.nativeBalance = eth(0.05) // $100
		adapter.erc20Balance = usdc(30)
		ok, err := a.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAddLiquidityTickDivergenceDeclines(t *testing.T) {
	spec := testSpec()
	adapter := &fakeAdapter{
		slot0:         &chain.Slot0{SqrtPriceX96: sqrtForPrice(2000)},
		nativeBalance: eth(0.01),
		erc20Balance:  usdc(25),
		ticks: map[common.Hash]int32{
			spec.DefaultPool.ID(): 1000,
			spec.QueryPool.ID():   1300,
		},
	}
	a := NewAddLiquidity(Deps{Adapter: adapter, Spec: spec, Log: zerolog.Nop()}, 5)

	task, reason, err := a.Start(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Equal(t, "Current tick is too far from other tick", reason)
}

func TestAddLiquidityStartSnapshotsBounds(t *testing.T) {
	spec := testSpec()
	adapter := &fakeAdapter{
		slot0:         &chain.Slot0{SqrtPriceX96: sqrtForPrice(2000)},
		nativeBalance: eth(0.01),
		erc20Balance:  usdc(25),
		ticks: map[common.Hash]int32{
			spec.DefaultPool.ID(): 1234,
			spec.QueryPool.ID():   1300,
		},
	}
	a := NewAddLiquidity(Deps{Adapter: adapter, Spec: spec, Log: zerolog.Nop()}, 5)

	task, reason, err := a.Start(context.Background(), nil, false)
	require.NoError(t, err)
	require.NotNil(t, task, reason)

	var data addLiquidityData
	require.NoError(t, task.DecodeData(&data))

	// 1234 rounds down to 1230 with spacing 10, then extends 5 spacings.
	assert.Equal(t, int32(1180), data.TickLower)
	assert.Equal(t, int32(1280), data.TickUpper)
	assert.Equal(t, adapter.nativeBalance.String(), data.ETHAmount.String())
	assert.Equal(t, adapter.erc20Balance.String(), data.USDCAmount.String())
}

func TestAddLiquidityCompletionUsesDepositEvent(t *testing.T) {
	spec := testSpec()
	adapter := &fakeAdapter{
		slot0:         &chain.Slot0{SqrtPriceX96: sqrtForPrice(2000)},
		nativeBalance: eth(0.01),
		erc20Balance:  usdc(25),
		ticks: map[common.Hash]int32{
			spec.DefaultPool.ID(): 1234,
			spec.QueryPool.ID():   1234,
		},
	}
	a := NewAddLiquidity(Deps{Adapter: adapter, Spec: spec, Log: zerolog.Nop()}, 5)

	task, reason, err := a.Start(context.Background(), nil, false)
	require.NoError(t, err)
	require.NotNil(t, task, reason)

	running, err := a.Update(context.Background(), *task)
	require.NoError(t, err)
	require.Equal(t, tasks.StatusRunning, running.Status)

	// The pool takes less than the snapshot offered; the event holds the
	// amounts that actually went in and the message must quote those.
	adapter.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	adapter.depositEvent = &chain.DepositEvent{
		TickLower:  1180,
		TickUpper:  1280,
		ETHAmount:  eth(0.008),
		USDCAmount: usdc(16),
		Liquidity:  big.NewInt(42),
	}

	done, err := a.Update(context.Background(), running)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, done.Status)
	assert.Contains(t, done.StatusMessage, "0.008000 ETH")
	assert.Contains(t, done.StatusMessage, "16.00 USDC")
	assert.Contains(t, done.StatusMessage, "[1180, 1280]")
}

func TestAddLiquidityCompletionFallsBackToSnapshot(t *testing.T) {
	spec := testSpec()
	adapter := &fakeAdapter{
		slot0:         &chain.Slot0{SqrtPriceX96: sqrtForPrice(2000)},
		nativeBalance: eth(0.01),
		erc20Balance:  usdc(25),
		ticks: map[common.Hash]int32{
			spec.DefaultPool.ID(): 1234,
			spec.QueryPool.ID():   1234,
		},
	}
	a := NewAddLiquidity(Deps{Adapter: adapter, Spec: spec, Log: zerolog.Nop()}, 5)

	task, _, err := a.Start(context.Background(), nil, false)
	require.NoError(t, err)
	require.NotNil(t, task)

	running, err := a.Update(context.Background(), *task)
	require.NoError(t, err)

	// No decodable event in the receipt; the snapshot amounts stand in.
	adapter.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful}

	done, err := a.Update(context.Background(), running)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, done.Status)
	assert.Contains(t, done.StatusMessage, "0.010000 ETH")
	assert.Contains(t, done.StatusMessage, "25.00 USDC")
}

func TestTickBounds(t *testing.T) {
	cases := []struct {
		tick, spacing, width int32
		lower, upper         int32
	}{
		{1234, 10, 5, 1180, 1280},
		{-7, 10, 5, -60, 40},
		{-70, 10, 5, -120, -20},
		{0, 60, 2, -120, 120},
	}
	for _, tc := range cases {
		lower, upper := tickBounds(tc.tick, tc.spacing, tc.width)
		assert.Equal(t, tc.lower, lower, "tick %d", tc.tick)
		assert.Equal(t, tc.upper, upper, "tick %d", tc.tick)
	}
}

func TestRemoveLiquidityGate(t *testing.T) {
	spec := testSpec()
	pool := *spec.DefaultPool

	inRange := chain.Position{PoolKey: pool, TickLower: 0, TickUpper: 1000, Liquidity: big.NewInt(1)}
	adapter := &fakeAdapter{
		positions: []chain.Position{inRange},
		ticks:     map[common.Hash]int32{pool.ID(): 500},
	}
	r := NewRemoveLiquidity(Deps{Adapter: adapter, Spec: spec, Log: zerolog.Nop()})

	ok, err := r.ShouldStart(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok, "tick in the middle of the range must not fire")

	// Drift to the edge: position ratio 0.05.
	adapter.ticks[pool.ID()] = 50
	ok, err = r.ShouldStart(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Empty positions never fire.
	adapter.positions = []chain.Position{
		{PoolKey: pool, TickLower: 0, TickUpper: 1000, Liquidity: big.NewInt(0)},
	}
	ok, err = r.ShouldStart(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveLiquidityLifecycle(t *testing.T) {
	spec := testSpec()
	pool := *spec.DefaultPool
	adapter := &fakeAdapter{
		positions: []chain.Position{
			{PoolKey: pool, TickLower: 0, TickUpper: 1000, Liquidity: big.NewInt(777)},
		},
		ticks: map[common.Hash]int32{pool.ID(): 950},
	}
	r := NewRemoveLiquidity(Deps{Adapter: adapter, Spec: spec, Log: zerolog.Nop()})

	task, reason, err := r.Start(context.Background(), nil, false)
	require.NoError(t, err)
	require.NotNil(t, task, reason)

	var data removeLiquidityData
	require.NoError(t, task.DecodeData(&data))
	assert.Equal(t, "777", data.Liquidity.String())
	assert.Equal(t, int32(950), data.CurrentTick)

	running, err := r.Update(context.Background(), *task)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusRunning, running.Status)
	assert.Equal(t, []string{"withdraw"}, adapter.submitted)
}

func TestSwapForBalanceGate(t *testing.T) {
	adapter := &fakeAdapter{slot0: &chain.Slot0{SqrtPriceX96: sqrtForPrice(2000)}}
	s := NewSwapForBalance(testDeps(adapter))

	t.Run("imbalanced and funded", func(t *testing.T) {
		adapter.nativeBalance = eth(0.05) // $100
		adapter.erc20Balance = usdc(30)
		ok, err := s.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("balanced", func(t *testing.T) {
		adapter.nativeBalance = eth(0.02) // $40
		adapter.erc20Balance = usdc(35)
		ok, err := s.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("too small", func(t *testing.T) {
		adapter.nativeBalance = eth(0.005) // $10
		adapter.erc20Balance = usdc(2)
		ok, err := s.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSwapForBalanceStartComputesExcess(t *testing.T) {
	adapter := &fakeAdapter{
		slot0:         &chain.Slot0{SqrtPriceX96: sqrtForPrice(2000)},
		nativeBalance: eth(0.05), // $100
		erc20Balance:  usdc(30),
	}
	s := NewSwapForBalance(testDeps(adapter))

	task, reason, err := s.Start(context.Background(), nil, false)
	require.NoError(t, err)
	require.NotNil(t, task, reason)

	var data swapForBalanceData
	require.NoError(t, task.DecodeData(&data))

	// ETH side is heavy: excess = 100 - 130/2 = $35 -> 0.0175 ETH.
	assert.True(t, data.ZeroForOne)
	got, _ := new(big.Float).SetInt(&data.AmountIn.Int).Float64()
	assert.InEpsilon(t, 0.0175e18, got, 1e-3)
}

func TestSwapForBalanceUpdateQuotesAndSubmits(t *testing.T) {
	adapter := &fakeAdapter{
		slot0:         &chain.Slot0{SqrtPriceX96: sqrtForPrice(2000)},
		nativeBalance: eth(0.05),
		erc20Balance:  usdc(30),
		swapQuote:     &chain.SwapQuote{AmountOut: usdc(34.9), GasEstimate: big.NewInt(100000)},
	}
	s := NewSwapForBalance(testDeps(adapter))

	task, _, err := s.Start(context.Background(), nil, false)
	require.NoError(t, err)
	require.NotNil(t, task)

	running, err := s.Update(context.Background(), *task)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusRunning, running.Status)
	assert.Equal(t, []string{"swap"}, adapter.submitted)
}

type fakeAllocations struct {
	targets  map[uint64]float64
	current  map[uint64]float64
	totalUSD float64
	err      error
}

func (f *fakeAllocations) Allocations(ctx context.Context) (map[uint64]float64, map[uint64]float64, float64, error) {
	return f.targets, f.current, f.totalUSD, f.err
}

func crossChainFixture(adapter *fakeAdapter, source AllocationSource) *CrossChainTransfer {
	to := &chain.Spec{
		ID:   10,
		Name: "optimism",
		Contracts: chain.Contracts{
			Manager: common.HexToAddress("0x0000000000000000000000000000000000000c10"),
		},
	}
	return NewCrossChainTransfer(testDeps(adapter), to, source, 10)
}

func TestCrossChainTransferGate(t *testing.T) {
	adapter := &fakeAdapter{}

	t.Run("drift above threshold fires", func(t *testing.T) {
		c := crossChainFixture(adapter, &fakeAllocations{
			targets:  map[uint64]float64{8453: 40, 10: 60},
			current:  map[uint64]float64{8453: 55, 10: 45},
			totalUSD: 10_000,
		})
		ok, err := c.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("drift inside threshold does not fire", func(t *testing.T) {
		c := crossChainFixture(adapter, &fakeAllocations{
			targets:  map[uint64]float64{8453: 50, 10: 50},
			current:  map[uint64]float64{8453: 55, 10: 45},
			totalUSD: 10_000,
		})
		ok, err := c.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong direction does not fire", func(t *testing.T) {
		c := crossChainFixture(adapter, &fakeAllocations{
			targets:  map[uint64]float64{8453: 60, 10: 40},
			current:  map[uint64]float64{8453: 40, 10: 60},
			totalUSD: 10_000,
		})
		ok, err := c.ShouldStart(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("source errors propagate", func(t *testing.T) {
		c := crossChainFixture(adapter, &fakeAllocations{err: errors.New("stale")})
		_, err := c.ShouldStart(context.Background(), nil)
		assert.Error(t, err)
	})
}

func TestCrossChainTransferQuoteSanity(t *testing.T) {
	source := &fakeAllocations{
		targets:  map[uint64]float64{8453: 40, 10: 60},
		current:  map[uint64]float64{8453: 55, 10: 45},
		totalUSD: 10_000,
	}
	// Excess on base: 15% of $10k = $1500.
	amount := usdc(1500)

	t.Run("quote keeps too much", func(t *testing.T) {
		adapter := &fakeAdapter{bridgeQuote: &chain.BridgeQuote{
			MinReceive: usdc(1400), // < 99% of amount
			Value:      big.NewInt(0),
		}}
		c := crossChainFixture(adapter, source)
		task, reason, err := c.Start(context.Background(), nil, false)
		require.NoError(t, err)
		assert.Nil(t, task)
		assert.Equal(t, "bridge quote keeps too much", reason)
	})

	t.Run("quote demands excessive value", func(t *testing.T) {
		adapter := &fakeAdapter{bridgeQuote: &chain.BridgeQuote{
			MinReceive: usdc(1495),
			Value:      new(big.Int).Add(amount, big.NewInt(1)),
		}}
		c := crossChainFixture(adapter, source)
		task, reason, err := c.Start(context.Background(), nil, false)
		require.NoError(t, err)
		assert.Nil(t, task)
		assert.Equal(t, "bridge quote demands excessive value", reason)
	})

	t.Run("good quote starts and submits", func(t *testing.T) {
		adapter := &fakeAdapter{bridgeQuote: &chain.BridgeQuote{
			MinReceive: usdc(1495),
			Value:      big.NewInt(0),
			Target:     common.HexToAddress("0x0000000000000000000000000000000000000e00"),
			Calldata:   []byte{0x01, 0x02},
		}}
		c := crossChainFixture(adapter, source)

		task, reason, err := c.Start(context.Background(), nil, false)
		require.NoError(t, err)
		require.NotNil(t, task, reason)
		assert.ElementsMatch(t, []string{"chain:8453:bridge", "chain:10:bridge"}, task.ResourcesTaken)

		running, err := c.Update(context.Background(), *task)
		require.NoError(t, err)
		assert.Equal(t, tasks.StatusRunning, running.Status)
		assert.Equal(t, []string{"bridge"}, adapter.submitted)
	})
}
