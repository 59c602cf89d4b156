package errorhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/response"
)

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindInvalidState:           http.StatusConflict,
		apperr.KindConcurrencyConflict:    http.StatusConflict,
		apperr.KindInsufficientFunds:      http.StatusUnprocessableEntity,
		apperr.KindInsufficientAgentFunds: http.StatusUnprocessableEntity,
		apperr.KindWalletFrozen:           http.StatusUnprocessableEntity,
		apperr.KindLimitExceeded:          http.StatusUnprocessableEntity,
		apperr.KindNotFound:               http.StatusNotFound,
		apperr.KindForbidden:              http.StatusForbidden,
		apperr.KindValidation:             http.StatusBadRequest,
		apperr.KindInternal:               http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, StatusFor(kind), string(kind))
	}
}

func TestRespondExplainsPrecondition(t *testing.T) {
	rec := httptest.NewRecorder()
	Respond(context.Background(), rec, apperr.InvalidState("mint.confirm", "mint request is already confirmed"))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body response.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "INVALID_STATE", body.Error.Code)
	assert.Equal(t, "mint request is already confirmed", body.Error.Message)
}

func TestRespondHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	Respond(context.Background(), rec, errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
