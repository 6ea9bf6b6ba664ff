package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// minReceiveRatio is the worst bridge quote the agent will accept.
const minReceiveRatio = 0.99

// AllocationSource supplies the latest allocation picture: LOS targets
// and the capital currently sitting on each chain, both in percent.
type AllocationSource interface {
	Allocations(ctx context.Context) (targets, current map[uint64]float64, totalUSD float64, err error)
}

// CrossChainTransfer moves USDC between two chains when their actual
// allocation has drifted from the LOS target.
type CrossChainTransfer struct {
	deps   Deps // deps.Spec is the source chain
	to     *chain.Spec
	source AllocationSource

	// thresholdPct is the |current - target| drift, in percentage
	// points, that justifies paying for a bridge.
	thresholdPct float64
}

// NewCrossChainTransfer creates a one-directional transfer definition
// between two chains.
func NewCrossChainTransfer(deps Deps, to *chain.Spec, source AllocationSource, thresholdPct float64) *CrossChainTransfer {
	return &CrossChainTransfer{deps: deps, to: to, source: source, thresholdPct: thresholdPct}
}

type crossChainTransferData struct {
	tasks.TxData
	Amount     *chain.BigInt `json:"amount"`
	MinReceive *chain.BigInt `json:"minReceive"`
	Value      *chain.BigInt `json:"value"`
	Target     string        `json:"target"`
	Calldata   string        `json:"calldata"`
	ToChainID  uint64        `json:"toChainId"`
}

func (c *CrossChainTransfer) Name() string {
	return fmt.Sprintf("cross-chain-transfer-%d-%d", c.deps.Spec.ID, c.to.ID)
}

func (c *CrossChainTransfer) LockResources() []string {
	return []string{BridgeResource(c.deps.Spec.ID), BridgeResource(c.to.ID)}
}

// ShouldStart fires when the source chain is over target, the target
// chain is under, and at least one drift exceeds the threshold.
func (c *CrossChainTransfer) ShouldStart(ctx context.Context, active []tasks.Task) (bool, error) {
	fromDrift, toDrift, _, err := c.drift(ctx)
	if err != nil {
		return false, err
	}
	if fromDrift <= 0 || toDrift >= 0 {
		return false, nil
	}
	return fromDrift > c.thresholdPct || -toDrift > c.thresholdPct, nil
}

func (c *CrossChainTransfer) Start(ctx context.Context, active []tasks.Task, force bool) (*tasks.Task, string, error) {
	if !force {
		ok, err := c.ShouldStart(ctx, active)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "allocation drift is within the threshold", nil
		}
	}

	fromDrift, _, totalUSD, err := c.drift(ctx)
	if err != nil {
		return nil, "", err
	}
	if fromDrift <= 0 {
		return nil, "source chain is not over-allocated", nil
	}

	// Move the source chain's full excess, denominated in USDC.
	amount, _ := new(big.Float).Mul(
		big.NewFloat(fromDrift/100*totalUSD), big.NewFloat(1e6)).Int(nil)
	if amount.Sign() <= 0 {
		return nil, "transfer amount rounds to zero", nil
	}

	quote, err := c.deps.Adapter.QuoteCrossChain(ctx, chain.BridgeQuoteRequest{
		FromChainID: c.deps.Spec.ID,
		ToChainID:   c.to.ID,
		Token:       c.deps.Spec.Contracts.USDC,
		Amount:      amount,
		Recipient:   c.to.Contracts.Manager,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to quote bridge: %w", err)
	}

	// A quote that keeps more than 1% or demands native value beyond the
	// amount is not worth executing.
	minAcceptable, _ := new(big.Float).Mul(
		new(big.Float).SetInt(amount), big.NewFloat(minReceiveRatio)).Int(nil)
	if quote.MinReceive.Cmp(minAcceptable) < 0 {
		return nil, "bridge quote keeps too much", nil
	}
	if quote.Value.Cmp(amount) > 0 {
		return nil, "bridge quote demands excessive value", nil
	}

	task, err := tasks.New(c.Name(), c.LockResources(), crossChainTransferData{
		Amount:     chain.NewBigInt(amount),
		MinReceive: chain.NewBigInt(quote.MinReceive),
		Value:      chain.NewBigInt(quote.Value),
		Target:     quote.Target.Hex(),
		Calldata:   hexutil.Encode(quote.Calldata),
		ToChainID:  c.to.ID,
	})
	if err != nil {
		return nil, "", err
	}
	return &task, "", nil
}

func (c *CrossChainTransfer) Update(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	var data crossChainTransferData
	if err := t.DecodeData(&data); err != nil {
		return t, err
	}

	if t.Status == tasks.StatusPreStart {
		quote := &chain.BridgeQuote{
			MinReceive: &data.MinReceive.Int,
			Value:      &data.Value.Int,
			Target:     common.HexToAddress(data.Target),
			Calldata:   common.FromHex(data.Calldata),
		}
		hash, err := c.deps.Adapter.SubmitBridge(ctx, c.deps.Spec.ID, quote, &data.Amount.Int)
		if err != nil {
			return t, fmt.Errorf("failed to submit bridge: %w", err)
		}
		h := hash.Hex()
		data.Hash = &h
		t, err = t.WithData(data)
		if err != nil {
			return t, err
		}
		return t.WithStatus(tasks.StatusRunning, "Bridge transfer submitted"), nil
	}

	return tasks.AdvanceTx(ctx, c.deps.Adapter, c.deps.Spec.ID, t, data.Hash,
		tasks.DefaultTxTimeout, func(*types.Receipt) string {
			return fmt.Sprintf("Bridged %s USDC to chain %d",
				usdcToDollars(&data.Amount.Int), data.ToChainID)
		}), nil
}

func (c *CrossChainTransfer) Stop(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	return t.Finished(tasks.StatusStopped, "Stopped"), nil
}

// drift returns current - target for both ends, in percentage points.
func (c *CrossChainTransfer) drift(ctx context.Context) (fromDrift, toDrift, totalUSD float64, err error) {
	targets, current, totalUSD, err := c.source.Allocations(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	fromDrift = current[c.deps.Spec.ID] - targets[c.deps.Spec.ID]
	toDrift = current[c.to.ID] - targets[c.to.ID]
	return fromDrift, toDrift, totalUSD, nil
}
