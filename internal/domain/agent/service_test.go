package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/testutil/memstore"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestRegisterRequiresAdmin(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()

	_, err := h.Agents.Register(ctx, h.NewUser(), agent.RegisterInput{
		UserID:              uuid.New(),
		DisplayName:         "shop",
		MaxTransactionLimit: dec(100),
	})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = h.Agents.Register(ctx, h.Admin, agent.RegisterInput{
		UserID:              uuid.New(),
		DisplayName:         "  ",
		MaxTransactionLimit: dec(100),
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.Agents.Register(ctx, h.Admin, agent.RegisterInput{
		UserID:              uuid.New(),
		DisplayName:         "shop",
		MaxTransactionLimit: dec(-1),
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestRejectsAmountsBeyondStoragePrecision(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()

	_, err := h.Agents.Register(ctx, h.Admin, agent.RegisterInput{
		UserID:              uuid.New(),
		DisplayName:         "shop",
		MaxTransactionLimit: decimal.RequireFromString("0.0000000000000000001"),
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	ag := h.NewAgent(t, 100, 100)
	tiny := decimal.RequireFromString("1.0000000000000000001")
	_, err = h.Agents.UpdateLimits(ctx, h.Admin, ag.UserID, agent.LimitsInput{AvailableCapacity: &tiny})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.Agents.Quote(ctx, "NT", decimal.RequireFromString("1e2000000"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	usd, err := h.Agents.Quote(ctx, "CT", decimal.RequireFromString("0.000000000000000001"))
	require.NoError(t, err)
	assert.True(t, usd.Equal(decimal.RequireFromString("0.000000000000000002")))
}

func TestCheckLimits(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	ag := h.NewAgent(t, 100, 40)

	usd, err := h.Agents.CheckLimits(ctx, ag.UserID, "CT", dec(30), false)
	require.NoError(t, err)
	assert.True(t, usd.Equal(dec(60)))

	_, err = h.Agents.CheckLimits(ctx, ag.UserID, "CT", dec(30), true)
	assert.True(t, errors.Is(err, apperr.ErrLimitExceeded))
	assert.Contains(t, apperr.MessageOf(err), "available capacity")

	_, err = h.Agents.CheckLimits(ctx, ag.UserID, "NT", dec(101), false)
	assert.True(t, errors.Is(err, apperr.ErrLimitExceeded))
	assert.Contains(t, apperr.MessageOf(err), "transaction limit")

	_, err = h.Agents.CheckLimits(ctx, ag.UserID, "USDT", dec(1), false)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.Agents.CheckLimits(ctx, uuid.New(), "NT", dec(1), false)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestReserveAndReleaseCapacity(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	ag := h.NewAgent(t, 1000, 100)

	require.NoError(t, h.Agents.ReserveCapacity(ctx, ag.UserID, dec(70)))
	err := h.Agents.ReserveCapacity(ctx, ag.UserID, dec(40))
	assert.True(t, errors.Is(err, apperr.ErrLimitExceeded))

	a, err := h.Agents.Get(ctx, ag.UserID)
	require.NoError(t, err)
	assert.True(t, a.AvailableCapacity.Equal(dec(30)))

	require.NoError(t, h.Agents.ReleaseCapacity(ctx, ag.UserID, dec(70)))
	require.NoError(t, h.Agents.ReleaseCapacity(ctx, ag.UserID, decimal.Zero))
	a, err = h.Agents.Get(ctx, ag.UserID)
	require.NoError(t, err)
	assert.True(t, a.AvailableCapacity.Equal(dec(100)))
}

func TestSuspensionAndReinstate(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{SuspendThreshold: 2})
	ctx := context.Background()
	ag := h.NewAgent(t, 1000, 1000)

	a, err := h.Agents.RecordDisputeLoss(ctx, ag.UserID)
	require.NoError(t, err)
	assert.False(t, a.IsSuspended)

	a, err = h.Agents.RecordDisputeLoss(ctx, ag.UserID)
	require.NoError(t, err)
	assert.True(t, a.IsSuspended)
	assert.NotNil(t, a.SuspendedAt)
	assert.False(t, a.CanServe())

	_, err = h.Agents.CheckLimits(ctx, ag.UserID, "NT", dec(1), false)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	assert.Equal(t, "agent is suspended", apperr.MessageOf(err))

	_, err = h.Agents.Reinstate(ctx, ag, ag.UserID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	a, err = h.Agents.Reinstate(ctx, h.Admin, ag.UserID)
	require.NoError(t, err)
	assert.False(t, a.IsSuspended)
	assert.Equal(t, 0, a.DisputesLost)

	_, err = h.Agents.Reinstate(ctx, h.Admin, ag.UserID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestUpdateLimits(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	ag := h.NewAgent(t, 100, 100)

	capacity := dec(500)
	inactive := false
	a, err := h.Agents.UpdateLimits(ctx, h.Admin, ag.UserID, agent.LimitsInput{AvailableCapacity: &capacity, IsActive: &inactive})
	require.NoError(t, err)
	assert.True(t, a.AvailableCapacity.Equal(dec(500)))
	assert.True(t, a.MaxTransactionLimit.Equal(dec(100)))

	_, err = h.Agents.CheckLimits(ctx, ag.UserID, "NT", dec(1), false)
	assert.Equal(t, "agent is not active", apperr.MessageOf(err))

	negative := dec(-5)
	_, err = h.Agents.UpdateLimits(ctx, h.Admin, ag.UserID, agent.LimitsInput{MaxTransactionLimit: &negative})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	// Non-admins only see agents able to serve.
	list, err := h.Agents.List(ctx, h.NewUser(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = h.Agents.List(ctx, h.Admin, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
