package tipjar

import (
	"errors"
	"fmt"
)

// Code is the stable numeric identifier surfaced to clients for every ledger
// failure.
type Code uint32

// Program error codes. The numbering is part of the client contract; 6005 is
// reserved.
const (
	CodeNameTooLong             Code = 6000
	CodeBioTooLong              Code = 6001
	CodeMessageTooLong          Code = 6002
	CodeInvalidTipAmount        Code = 6003
	CodeUnauthorized            Code = 6004
	CodeNameEmpty               Code = 6006
	CodeOverflow                Code = 6007
	CodeInsufficientTipsBalance Code = 6008
	CodeInvalidWithdrawalAmount Code = 6009
	CodeCannotTipSelf           Code = 6010
)

// Runtime error codes raised outside the validation rules of a single
// operation.
const (
	CodeAlreadyExists      Code = 100
	CodeProfileNotFound    Code = 101
	CodeInsufficientFunds  Code = 102
	CodeInvalidSeed        Code = 103
	CodeIdentityMismatch   Code = 104
	CodeInvalidSignature   Code = 105
	CodeInvalidNonce       Code = 106
	CodeInvalidInstruction Code = 107
)

var codeNames = map[Code]string{
	CodeNameTooLong:             "NameTooLong",
	CodeBioTooLong:              "BioTooLong",
	CodeMessageTooLong:          "MessageTooLong",
	CodeInvalidTipAmount:        "InvalidTipAmount",
	CodeUnauthorized:            "Unauthorized",
	CodeNameEmpty:               "NameEmpty",
	CodeOverflow:                "Overflow",
	CodeInsufficientTipsBalance: "InsufficientTipsBalance",
	CodeInvalidWithdrawalAmount: "InvalidWithdrawalAmount",
	CodeCannotTipSelf:           "CannotTipSelf",
	CodeAlreadyExists:           "AlreadyExists",
	CodeProfileNotFound:         "ProfileNotFound",
	CodeInsufficientFunds:       "InsufficientFunds",
	CodeInvalidSeed:             "InvalidSeed",
	CodeIdentityMismatch:        "IdentityMismatch",
	CodeInvalidSignature:        "InvalidSignature",
	CodeInvalidNonce:            "InvalidNonce",
	CodeInvalidInstruction:      "InvalidInstruction",
}

var codeMessages = map[Code]string{
	CodeNameTooLong:             "creator name is too long (max 32 bytes)",
	CodeBioTooLong:              "creator bio is too long (max 200 bytes)",
	CodeMessageTooLong:          "tip message is too long (max 140 bytes)",
	CodeInvalidTipAmount:        "tip amount must be greater than zero",
	CodeUnauthorized:            "only the creator can perform this action",
	CodeNameEmpty:               "creator name cannot be empty",
	CodeOverflow:                "arithmetic overflow",
	CodeInsufficientTipsBalance: "insufficient tips to perform this withdrawal",
	CodeInvalidWithdrawalAmount: "withdrawal amount must be greater than zero",
	CodeCannotTipSelf:           "creators cannot tip themselves",
	CodeAlreadyExists:           "account already exists",
	CodeProfileNotFound:         "creator profile not found",
	CodeInsufficientFunds:       "wallet cannot cover amount and allocation fee",
	CodeInvalidSeed:             "identity seed out of bounds",
	CodeIdentityMismatch:        "identity does not match derivation",
	CodeInvalidSignature:        "instruction signature invalid",
	CodeInvalidNonce:            "instruction nonce does not match wallet",
	CodeInvalidInstruction:      "malformed instruction",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Error is a ledger failure carrying its discriminated code.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	msg := codeMessages[e.Code]
	if msg == "" {
		msg = "ledger error"
	}
	if e.Detail == "" {
		return fmt.Sprintf("tipjar: %s: %s", e.Code, msg)
	}
	return fmt.Sprintf("tipjar: %s: %s: %s", e.Code, msg, e.Detail)
}

// Is matches any *Error carrying the same code, so errors.Is works against
// the exported sentinels regardless of Detail.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNameTooLong             = &Error{Code: CodeNameTooLong}
	ErrBioTooLong              = &Error{Code: CodeBioTooLong}
	ErrMessageTooLong          = &Error{Code: CodeMessageTooLong}
	ErrInvalidTipAmount        = &Error{Code: CodeInvalidTipAmount}
	ErrUnauthorized            = &Error{Code: CodeUnauthorized}
	ErrNameEmpty               = &Error{Code: CodeNameEmpty}
	ErrOverflow                = &Error{Code: CodeOverflow}
	ErrInsufficientTipsBalance = &Error{Code: CodeInsufficientTipsBalance}
	ErrInvalidWithdrawalAmount = &Error{Code: CodeInvalidWithdrawalAmount}
	ErrCannotTipSelf           = &Error{Code: CodeCannotTipSelf}
	ErrAlreadyExists           = &Error{Code: CodeAlreadyExists}
	ErrProfileNotFound         = &Error{Code: CodeProfileNotFound}
	ErrInsufficientFunds       = &Error{Code: CodeInsufficientFunds}
	ErrInvalidSeed             = &Error{Code: CodeInvalidSeed}
	ErrIdentityMismatch        = &Error{Code: CodeIdentityMismatch}
	ErrInvalidSignature        = &Error{Code: CodeInvalidSignature}
	ErrInvalidNonce            = &Error{Code: CodeInvalidNonce}
	ErrInvalidInstruction      = &Error{Code: CodeInvalidInstruction}
)

// CodeOf extracts the ledger code from err. ok is false for infrastructure
// errors that carry no code.
func CodeOf(err error) (Code, bool) {
	var ledgerErr *Error
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Code, true
	}
	return 0, false
}
