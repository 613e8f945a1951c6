package state

import "errors"

var (
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrOverflow            = errors.New("amount overflows 128 bits")
	ErrDealExists          = errors.New("deal already exists")
	ErrDealNotFound        = errors.New("deal not found")
	ErrDealClosed          = errors.New("deal already closed")
	ErrDealExpired         = errors.New("deal expired")
	ErrUnauthorized        = errors.New("caller not authorized for deal")
	ErrInvalidFill         = errors.New("fill amount out of range")
	ErrUnknownKind         = errors.New("unknown transaction kind")
)
