package domain

import "errors"

var (
	// ErrInvalidInput indicates missing or malformed engine input; nothing
	// was written.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPurchaserNotFound indicates the purchaser does not exist in the
	// user directory; nothing was written.
	ErrPurchaserNotFound = errors.New("purchaser not found")
	// ErrUserNotFound indicates a user lookup miss.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateCommission indicates the (beneficiary, sourceTransaction,
	// generation) unique constraint rejected an insert.
	ErrDuplicateCommission = errors.New("duplicate commission")
)
