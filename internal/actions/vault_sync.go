package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// VaultSync pulls idle deposits out of the vault into the manager so
// they can be deployed. Parent chain only.
type VaultSync struct {
	deps Deps

	// reserve is the balance intentionally left in the vault for cheap
	// withdrawals. May be zero.
	reserve *big.Int
}

// NewVaultSync creates the parent chain's vault sync definition.
func NewVaultSync(deps Deps, reserve *big.Int) *VaultSync {
	if reserve == nil {
		reserve = new(big.Int)
	}
	return &VaultSync{deps: deps, reserve: reserve}
}

type vaultSyncData struct {
	tasks.TxData
	WithdrawAmount *chain.BigInt `json:"withdrawAmount"`
}

func (v *VaultSync) Name() string {
	return fmt.Sprintf("vault-sync-%d", v.deps.Spec.ID)
}

func (v *VaultSync) LockResources() []string {
	return []string{ManagerResource(v.deps.Spec.ID)}
}

func (v *VaultSync) ShouldStart(ctx context.Context, active []tasks.Task) (bool, error) {
	balance, err := v.deps.Adapter.VaultBalance(ctx, v.deps.Spec.ID)
	if err != nil {
		return false, err
	}
	return balance.Cmp(v.reserve) > 0, nil
}

func (v *VaultSync) Start(ctx context.Context, active []tasks.Task, force bool) (*tasks.Task, string, error) {
	if !force {
		ok, err := v.ShouldStart(ctx, active)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "vault balance does not exceed the reserve", nil
		}
	}

	balance, err := v.deps.Adapter.VaultBalance(ctx, v.deps.Spec.ID)
	if err != nil {
		return nil, "", err
	}

	// Withdraw the excess only; the reserve stays behind for cheap
	// user withdrawals.
	amount := new(big.Int).Sub(balance, v.reserve)
	if amount.Sign() <= 0 {
		return nil, "vault balance does not exceed the reserve", nil
	}

	task, err := tasks.New(v.Name(), v.LockResources(), vaultSyncData{
		WithdrawAmount: chain.NewBigInt(amount),
	})
	if err != nil {
		return nil, "", err
	}
	return &task, "", nil
}

func (v *VaultSync) Update(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	var data vaultSyncData
	if err := t.DecodeData(&data); err != nil {
		return t, err
	}

	if t.Status == tasks.StatusPreStart {
		hash, err := v.deps.Adapter.SubmitVaultWithdraw(ctx, v.deps.Spec.ID, &data.WithdrawAmount.Int)
		if err != nil {
			return t, fmt.Errorf("failed to submit vault withdraw: %w", err)
		}
		h := hash.Hex()
		data.Hash = &h
		t, err = t.WithData(data)
		if err != nil {
			return t, err
		}
		return t.WithStatus(tasks.StatusRunning, "Vault withdraw submitted"), nil
	}

	return tasks.AdvanceTx(ctx, v.deps.Adapter, v.deps.Spec.ID, t, data.Hash,
		tasks.DefaultTxTimeout, func(*types.Receipt) string {
			return fmt.Sprintf("Withdrew %s ETH from vault", weiToEther(&data.WithdrawAmount.Int))
		}), nil
}

func (v *VaultSync) Stop(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	return t.Finished(tasks.StatusStopped, "Stopped"), nil
}
