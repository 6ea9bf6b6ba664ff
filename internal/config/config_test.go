package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/liquidity-sentinel/internal/chain"
)

func TestValidatePrivateKey(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 32)

	t.Run("valid key", func(t *testing.T) {
		assert.NoError(t, ValidatePrivateKey(valid))
	})

	t.Run("missing prefix", func(t *testing.T) {
		assert.Error(t, ValidatePrivateKey(strings.Repeat("ab", 32)))
	})

	t.Run("wrong length", func(t *testing.T) {
		assert.Error(t, ValidatePrivateKey("0xabcd"))
	})

	t.Run("not hex", func(t *testing.T) {
		assert.Error(t, ValidatePrivateKey("0x"+strings.Repeat("zz", 32)))
	})
}

func TestRegistryDefaults(t *testing.T) {
	reg, err := LoadRegistry(EnvProduction)
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 4)

	// Ascending id order keeps scheduling deterministic.
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	parent := reg.Parent()
	require.NotNil(t, parent)
	assert.Equal(t, ParentChainID, parent.ID)
	assert.NotEqual(t, (chain.Contracts{}).Vault, parent.Contracts.Vault)

	mainnet := reg.Get(1)
	require.NotNil(t, mainnet)
	assert.True(t, mainnet.Excluded)
	assert.Nil(t, mainnet.DefaultPool, "excluded chains carry no pools")

	for _, spec := range all {
		if spec.Excluded {
			continue
		}
		require.NotNil(t, spec.DefaultPool, "chain %d", spec.ID)
		require.NotNil(t, spec.QueryPool, "chain %d", spec.ID)
		assert.Equal(t, uint32(500), spec.DefaultPool.Fee)
		assert.Equal(t, uint32(3000), spec.QueryPool.Fee)
		assert.Equal(t, spec.Contracts.Hook, spec.DefaultPool.Hooks)
		assert.Positive(t, spec.GasScore)
	}

	assert.Nil(t, reg.Get(999), "unknown chain id")
}

func TestDBPaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/agent"}
	assert.Equal(t, "/var/lib/agent/tasks.db", cfg.TasksDBPath())
	assert.Equal(t, "/var/lib/agent/timeseries.db", cfg.TimeseriesDBPath())
}
