package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
)

var (
	// ErrInvalidAmount matches InvalidAmountError.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds matches InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDustResult matches DustResultError.
	ErrDustResult = errors.New("conversion result below minimum")
	// ErrSameAsset matches SameAssetError.
	ErrSameAsset = errors.New("source and target asset are the same")
	// ErrPersistence matches PersistenceError.
	ErrPersistence = errors.New("persistence failed")
)

// InvalidAmountError reports a non-positive amount or one below the asset minimum.
type InvalidAmountError struct {
	Asset   asset.Asset
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	if e.Amount.Sign() <= 0 {
		return fmt.Sprintf("invalid amount: %s %s must be greater than zero", e.Amount.String(), e.Asset.Symbol())
	}
	return fmt.Sprintf("invalid amount: minimum for %s is %s, got %s", e.Asset.Symbol(), e.Asset.Format(e.Minimum), e.Amount.String())
}

func (e *InvalidAmountError) Is(target error) bool { return target == ErrInvalidAmount }

// InsufficientFundsError reports a request larger than the available balance.
type InsufficientFundsError struct {
	Asset     asset.Asset
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s %s, available %s",
		e.Asset.Format(e.Requested), e.Asset.Symbol(), e.Asset.Format(e.Available))
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// DustResultError reports a conversion whose result falls below the target minimum.
type DustResultError struct {
	Asset   asset.Asset
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (e *DustResultError) Error() string {
	return fmt.Sprintf("result amount %s %s is below the minimum %s, try exchanging more",
		e.Asset.Format(e.Amount), e.Asset.Symbol(), e.Asset.Format(e.Minimum))
}

func (e *DustResultError) Is(target error) bool { return target == ErrDustResult }

// SameAssetError reports an exchange whose source equals its target.
type SameAssetError struct {
	Asset asset.Asset
}

func (e *SameAssetError) Error() string {
	return fmt.Sprintf("cannot exchange %s to itself", e.Asset.Symbol())
}

func (e *SameAssetError) Is(target error) bool { return target == ErrSameAsset }

// PersistenceError wraps a failed write to a backing store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
