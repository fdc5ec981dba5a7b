package faq

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyDataset      = errors.New("FAQ data must contain at least one entry")
	ErrNoUsableEntries   = errors.New("no valid FAQ entries were processed")
	ErrInvalidThreshold  = errors.New("similarity threshold must be within [0, 1]")
	ErrUnsupportedFormat = errors.New("unsupported FAQ dataset format")
)

// ValidationError rejects a whole candidate dataset. Index is the offending
// item's position, or -1 when the problem is the dataset shape itself.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Index < 0:
		return "invalid FAQ data: " + e.Reason
	case e.Field == "":
		return fmt.Sprintf("invalid FAQ data: item %d: %s", e.Index, e.Reason)
	default:
		return fmt.Sprintf("invalid FAQ data: item %d: %s %s", e.Index, e.Field, e.Reason)
	}
}
