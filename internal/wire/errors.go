package wire

import "fmt"

// Code is a numeric MSNP error code surfaced to the client on the wire.
type Code int

const (
	CodeInvalidParameter  Code = 201
	CodeInvalidIdentity   Code = 205
	CodeAlreadyLoggedIn   Code = 207
	CodeInvalidAddressee  Code = 208
	CodeInternal          Code = 500
	CodeNotExpected       Code = 715
	CodeAuthFailed        Code = 911
	CodeNotAllowed        Code = 913
	CodeBadCredentialHash Code = 928
)

// Error pairs a wire error code with the transaction id it must be
// reported against, and satisfies the error interface. The session
// handlers do not return it; they write their error reply lines directly.
type Error struct {
	Code Code
	TxID uint32
}

func (e *Error) Error() string {
	return fmt.Sprintf("msnp error %d (txid %d)", e.Code, e.TxID)
}

func NewError(code Code, txID uint32) *Error {
	return &Error{Code: code, TxID: txID}
}
