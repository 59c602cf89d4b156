package database

import (
	"errors"

	"github.com/lib/pq"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
)

const (
	pqUniqueViolation      = "23505"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// Check constraints that guard balances; Postgres names column checks
// <table>_<column>_check.
var balanceConstraints = map[string]bool{
	"wallets_balance_check":           true,
	"wallets_pending_balance_check":   true,
	"agents_available_capacity_check": true,
}

// MapError converts driver errors into settlement error kinds.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected:
			return &apperr.Error{Kind: apperr.KindConcurrencyConflict, Op: op, Message: "concurrent update detected, retry the operation", Err: err}
		case pqCheckViolation:
			if balanceConstraints[pqErr.Constraint] {
				return &apperr.Error{Kind: apperr.KindInsufficientFunds, Op: op, Message: "balance constraint violated", Err: err}
			}
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Message: "value rejected by constraint " + pqErr.Constraint, Err: err}
		}
	}
	return apperr.Internal(op, err)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
