package token

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger_BurnReducesSupply(t *testing.T) {
	l := NewMemoryLedger(big.NewInt(1_000_000))

	require.NoError(t, l.Burn(context.Background(), big.NewInt(140)))

	assert.Equal(t, int64(999_860), l.TotalSupply().Int64())
	assert.Equal(t, int64(140), l.TotalBurned().Int64())
}

func TestMemoryLedger_BurnExceedingSupplyFails(t *testing.T) {
	l := NewMemoryLedger(big.NewInt(100))

	err := l.Burn(context.Background(), big.NewInt(101))
	require.ErrorIs(t, err, ErrBurnFailed)
	assert.Equal(t, int64(100), l.TotalSupply().Int64())
}

func TestMemoryLedger_Transfer(t *testing.T) {
	l := NewMemoryLedger(big.NewInt(1000))

	require.NoError(t, l.Transfer(context.Background(), "0xtreasury", big.NewInt(560)))
	assert.Equal(t, int64(560), l.BalanceOf("0xtreasury").Int64())
	assert.Equal(t, int64(0), l.BalanceOf("0xother").Int64())
}

func TestMemoryLedger_RejectsNegative(t *testing.T) {
	l := NewMemoryLedger(big.NewInt(1000))

	require.ErrorIs(t, l.Burn(context.Background(), big.NewInt(-1)), ErrInvalidAmount)
	require.ErrorIs(t, l.Transfer(context.Background(), "0xt", big.NewInt(-1)), ErrInvalidAmount)
}

func TestMemoryLedger_ZeroIsNoop(t *testing.T) {
	l := NewMemoryLedger(big.NewInt(1000))

	require.NoError(t, l.Burn(context.Background(), big.NewInt(0)))
	require.NoError(t, l.Transfer(context.Background(), "0xt", big.NewInt(0)))
	assert.Empty(t, l.Movements())
}

func TestMemoryLedger_MovementLog(t *testing.T) {
	l := NewMemoryLedger(big.NewInt(1000))

	require.NoError(t, l.Burn(context.Background(), big.NewInt(10)))
	require.NoError(t, l.Transfer(context.Background(), "0xt", big.NewInt(20)))

	moves := l.Movements()
	require.Len(t, moves, 2)
	assert.Equal(t, "burn", moves[0].Kind)
	assert.Equal(t, "transfer", moves[1].Kind)
	assert.Equal(t, "0xt", moves[1].To)
}

func TestNewEthLedger_Validation(t *testing.T) {
	_, err := NewEthLedger(EthConfig{TokenContract: "not-an-address"})
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewEthLedger(EthConfig{
		TokenContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PrivateKey:    "short",
	})
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
}
