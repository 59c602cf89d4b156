package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := InvalidState("mint.confirm", "mint request is already %s", "confirmed")

	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "mint.confirm: mint request is already confirmed", err.Error())
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	err := fmt.Errorf("resolve dispute: %w", New(KindInsufficientAgentFunds, "dispute.resolve", "agent wallet cannot cover penalty"))

	assert.True(t, errors.Is(err, ErrInsufficientAgentFunds))
	assert.Equal(t, KindInsufficientAgentFunds, KindOf(err))
	assert.Equal(t, "agent wallet cannot cover penalty", MessageOf(err))
}

func TestInternal(t *testing.T) {
	assert.Nil(t, Internal("op", nil))

	cause := errors.New("connection reset")
	err := Internal("ledger.apply", cause)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorIs(t, err, cause)

	typed := NotFound("mint.get", "mint request")
	assert.Same(t, typed, Internal("op", typed))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "An unexpected error occurred", MessageOf(errors.New("boom")))
}
