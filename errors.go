package deploylock

import "errors"

var (
	ErrAccessingLock   = errors.New("accessing lock")          //nolint:revive
	ErrClaimingLock    = errors.New("claiming lock")           //nolint:revive
	ErrContended       = errors.New("lock creation contended") //nolint:revive
	ErrDecodingRecord  = errors.New("decoding lock record")    //nolint:revive
	ErrEncodingRecord  = errors.New("encoding lock record")    //nolint:revive
	ErrInvalidConfig   = errors.New("invalid configuration")   //nolint:revive
	ErrInvalidScope    = errors.New("invalid scope")           //nolint:revive
	ErrLockDenied      = errors.New("lock denied")             //nolint:revive
	ErrReleasingLock   = errors.New("releasing lock")          //nolint:revive
	ErrRequestFailed   = errors.New("request failed")          //nolint:revive
	ErrInvalidResponse = errors.New("invalid response")        //nolint:revive
	ErrUnlockFailed    = errors.New("unlock failed")           //nolint:revive
)
