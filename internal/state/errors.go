package state

import "errors"

// Code identifies a typed instruction rejection. Every precondition
// violation maps to exactly one code so off-chain callers can distinguish
// "not entitled" from "entitled to zero" and retryable from terminal.
type Code int32

const (
	CodeUninitialized Code = iota
	CodeAlreadyInitialized
	CodeUnauthorized
	CodeBetEnded
	CodeInvalidBet
	CodeBetComplete
	CodeBetNotEnded
	CodeAlreadyClaimed
	CodeBetNotComplete
	CodeWrongBet
	CodeTitleTooLong
	CodeDescriptionTooLong
	CodeTitleEmpty
	CodeDescriptionEmpty
	CodeMathOverflow
)

func (c Code) String() string {
	switch c {
	case CodeUninitialized:
		return "Uninitialized"
	case CodeAlreadyInitialized:
		return "AlreadyInitialized"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeBetEnded:
		return "BetEnded"
	case CodeInvalidBet:
		return "InvalidBet"
	case CodeBetComplete:
		return "BetComplete"
	case CodeBetNotEnded:
		return "BetNotEnded"
	case CodeAlreadyClaimed:
		return "AlreadyClaimed"
	case CodeBetNotComplete:
		return "BetNotComplete"
	case CodeWrongBet:
		return "WrongBet"
	case CodeTitleTooLong:
		return "TitleTooLong"
	case CodeDescriptionTooLong:
		return "DescriptionTooLong"
	case CodeTitleEmpty:
		return "TitleEmpty"
	case CodeDescriptionEmpty:
		return "DescriptionEmpty"
	case CodeMathOverflow:
		return "MathOverflow"
	default:
		return "Unknown"
	}
}

// Error is a typed rejection. Instructions abort with one of these before
// any state mutation; there is never a partial effect to roll back.
type Error struct {
	Code Code
	msg  string
}

func (e *Error) Error() string { return e.msg }

var (
	ErrUninitialized      = &Error{CodeUninitialized, "is not initialized"}
	ErrAlreadyInitialized = &Error{CodeAlreadyInitialized, "is already initialized"}
	ErrUnauthorized       = &Error{CodeUnauthorized, "is unauthorized"}
	ErrBetEnded           = &Error{CodeBetEnded, "bet has ended"}
	ErrInvalidBet         = &Error{CodeInvalidBet, "invalid bet"}
	ErrBetComplete        = &Error{CodeBetComplete, "bet is complete"}
	ErrBetNotEnded        = &Error{CodeBetNotEnded, "bet has not ended"}
	ErrAlreadyClaimed     = &Error{CodeAlreadyClaimed, "already claimed"}
	ErrBetNotComplete     = &Error{CodeBetNotComplete, "bet has not completed"}
	ErrWrongBet           = &Error{CodeWrongBet, "wrong bet"}
	ErrTitleTooLong       = &Error{CodeTitleTooLong, "title is too long (max 100 characters)"}
	ErrDescriptionTooLong = &Error{CodeDescriptionTooLong, "description is too long (max 500 characters)"}
	ErrTitleEmpty         = &Error{CodeTitleEmpty, "title cannot be empty"}
	ErrDescriptionEmpty   = &Error{CodeDescriptionEmpty, "description cannot be empty"}
	ErrMathOverflow       = &Error{CodeMathOverflow, "math overflow"}
)

// CodeOf extracts the rejection code from an error chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
