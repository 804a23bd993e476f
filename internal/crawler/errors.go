package crawler

import "errors"

var (
	// ErrBatchTooLarge is returned by senders given more than MaxBatchSize entries.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	// ErrEmptyBatch is returned by senders given no entries.
	ErrEmptyBatch = errors.New("batch is empty")
)

// CheckBatch validates the entry count of a batch before it is sent.
func CheckBatch(entries []Entry) error {
	switch {
	case len(entries) == 0:
		return ErrEmptyBatch
	case len(entries) > MaxBatchSize:
		return ErrBatchTooLarge
	default:
		return nil
	}
}
