package postgres

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeCheckViolation       = "23514"
	codeUniqueViolation      = "23505"
)

// mapErr turns driver errors into groupbuy kinds. id names the row op was after.
func mapErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var ge *groupbuy.Error
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return groupbuy.NotFound(op, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return groupbuy.Busy(op, err)
		case codeCheckViolation:
			if pgErr.TableName == "products" {
				return groupbuy.InsufficientStock(op, id, 0)
			}
			return groupbuy.Inconsistent(op, id, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
