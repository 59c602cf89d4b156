package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewBuildsTypeFromSubjectAndStatus(t *testing.T) {
	id := uuid.New()
	user := uuid.New()

	e := New(SubjectMint, id, "confirmed", nil, user)

	assert.Equal(t, "mint_request.confirmed", e.Type)
	assert.Equal(t, id, e.SubjectID)
	assert.Equal(t, []uuid.UUID{user}, e.Recipients)
	assert.False(t, e.OccurredAt.IsZero())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Publish(context.Background(), New(SubjectEscrow, uuid.New(), "locked", nil))
	r.Publish(context.Background(), New(SubjectEscrow, uuid.New(), "released", nil))

	assert.Equal(t, []string{"escrow.locked", "escrow.released"}, r.Types())
	assert.Len(t, r.Events(), 2)
}

func TestUserChannel(t *testing.T) {
	id := uuid.MustParse("7b1f5a52-25c6-4c55-9d8e-31a3f1d0c001")
	assert.Equal(t, "settlement:events:user:7b1f5a52-25c6-4c55-9d8e-31a3f1d0c001", UserChannel(id))
}
