package vault

import "fmt"

// 协议错误分类，HTTP 层按 errors.Is 映射为机器可读标签。
// 所有错误都是整笔失败，不产生部分状态变更。
var (
	ErrZeroAddress        = fmt.Errorf("zero address")
	ErrInvalidParams      = fmt.Errorf("invalid params")
	ErrNotKeeper          = fmt.Errorf("caller is not keeper")
	ErrNotOwner           = fmt.Errorf("caller is not owner")
	ErrPaused             = fmt.Errorf("vault is paused")
	ErrIntervalNotElapsed = fmt.Errorf("interval not elapsed")
	ErrCapExceeded        = fmt.Errorf("per-cycle quote cap exceeded")
	ErrSlippage           = fmt.Errorf("swap output below min out")
	ErrNothingToSwap      = fmt.Errorf("nothing to swap")
	ErrReentrancy         = fmt.Errorf("reentrant call rejected")
	ErrInsufficientShares = fmt.Errorf("insufficient share balance")
	ErrZeroAmount         = fmt.Errorf("zero amount")
	ErrOutOfRange         = fmt.Errorf("index out of range")
	ErrMetaTxExpired      = fmt.Errorf("meta transaction expired")
	ErrUnknownVault       = fmt.Errorf("unknown vault")
)
