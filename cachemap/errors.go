package cachemap

import "github.com/shelfdb/shelfdb/shelf"

// Re-exported sentinels so callers can errors.Is against this package
// without importing shelf directly, matching hashfile's convention.
var (
	ErrNoImpl  = shelf.ErrNoImpl
	ErrInvalid = shelf.ErrInvalid
	ErrNoPerm  = shelf.ErrNoPerm
	ErrDupRec  = shelf.ErrDupRec
	ErrNoRec   = shelf.ErrNoRec
	ErrLogic   = shelf.ErrLogic
	ErrSystem  = shelf.ErrSystem
	ErrBusy    = shelf.ErrBusy
)
