package domain

import "errors"

var (
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrNotFound          = errors.New("item not found")
	ErrNotSold           = errors.New("item not sold")
	ErrAlreadySold       = errors.New("item already sold")
	ErrSelfPurchase      = errors.New("seller cannot purchase own item")
	ErrPaymentMismatch   = errors.New("payment does not match price")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrReentrant         = errors.New("reentrant call")
	ErrWithdrawFailed    = errors.New("withdraw failed")
	ErrCustodyShortfall  = errors.New("insufficient funds in custody")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrBalanceOverflow   = errors.New("proceeds balance overflow")
)
