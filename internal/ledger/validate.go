package ledger

import (
	"github.com/google/uuid"

	"github.com/tahirsattar/payvault/internal/models"
)

// ValidateEntry enforces which account roles a transaction type may use and
// that the amount (in storage units) is positive. It returns the first
// violated rule and checks nothing further.
func ValidateEntry(txType models.TransactionType, from, to *uuid.UUID, amount int64) error {
	switch txType {
	case models.TypeCredit:
		if from != nil {
			return newValidationError("from_account_id", "credit transactions must not have from_account_id")
		}

		if to == nil {
			return newValidationError("to_account_id", "credit transactions must have to_account_id")
		}

	case models.TypeDebit:
		if from == nil {
			return newValidationError("from_account_id", "debit transactions must have from_account_id")
		}

		if to != nil {
			return newValidationError("to_account_id", "debit transactions must not have to_account_id")
		}

	case models.TypeTransfer:
		if from == nil {
			return newValidationError("from_account_id", "transfer transactions must have from_account_id")
		}

		if to == nil {
			return newValidationError("to_account_id", "transfer transactions must have to_account_id")
		}

		if *from == *to {
			return newValidationError("to_account_id", "transfer transactions cannot use the same account on both sides")
		}

	default:
		return newValidationError("transaction_type", "unknown transaction type "+string(txType))
	}

	if amount <= 0 {
		return newValidationError("amount", "amount must be greater than 0")
	}

	return nil
}
