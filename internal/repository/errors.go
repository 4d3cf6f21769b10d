package repository

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrPersistence = errors.New("persistence failure")
	ErrConflict    = errors.New("already exists")
)

// ValidateMessage applies the checks every MessageRepository implementation
// runs before writing. maxLen <= 0 disables the length bound.
func ValidateMessage(senderID, receiverID int64, content string, maxLen int) error {
	if senderID == receiverID {
		return fmt.Errorf("%w: sender and receiver are the same user", ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, maxLen)
	}
	return nil
}

// Offset converts a 1-based page number into a row offset. Pages below 1
// are treated as page 1.
//
// page comes straight from a query string, so (page-1)*pageSize can
// overflow int and go negative. A negative offset panics a slice and is
// an error in Postgres, so an offset that would not fit saturates at
// math.MaxInt instead: that is past the end of any conversation and
// yields an empty page.
func Offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		return 0
	}
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return (page - 1) * pageSize
}
