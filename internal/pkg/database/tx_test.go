package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAfterCommitWithoutTxRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(ctx context.Context) { ran = true })
	assert.True(t, ran)
}

func TestAfterCommitDefersUntilCommit(t *testing.T) {
	ctx, commit := MarkTx(context.Background())
	assert.True(t, InTx(ctx))

	var hookCtx context.Context
	AfterCommit(ctx, func(c context.Context) { hookCtx = c })
	assert.Nil(t, hookCtx)

	commit()
	if assert.NotNil(t, hookCtx) {
		assert.False(t, InTx(hookCtx))
	}
}

func TestDetach(t *testing.T) {
	ctx, _ := MarkTx(context.Background())
	assert.False(t, InTx(Detach(ctx)))
	assert.False(t, InTx(Detach(context.Background())))
}
