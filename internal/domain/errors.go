package domain

import "errors"

// Error taxonomy. Callers wrap these with context and match with errors.Is.
var (
	// ErrInsufficientData means a ticker has too few valid bars to warm up
	// the indicators. The ticker is skipped; the batch continues.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidParameter rejects a sizing call (non-positive stop distance,
	// risk fraction or price). No trade is entered.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDataSource means the data collaborator could not supply bars.
	ErrDataSource = errors.New("data source failure")

	// ErrPersistence means a result could not be written. In-memory results
	// are unaffected.
	ErrPersistence = errors.New("persistence failure")
)
