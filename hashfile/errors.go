package hashfile

import "github.com/shelfdb/shelfdb/shelf"

// Error sentinels are the shared contract ones; hashfile never defines its
// own error vocabulary, per spec section 7's per-thread-scoped but
// uniformly-classed error model.
var (
	ErrNoImpl  = shelf.ErrNoImpl
	ErrInvalid = shelf.ErrInvalid
	ErrNoFile  = shelf.ErrNoFile
	ErrNoPerm  = shelf.ErrNoPerm
	ErrBroken  = shelf.ErrBroken
	ErrDupRec  = shelf.ErrDupRec
	ErrNoRec   = shelf.ErrNoRec
	ErrLogic   = shelf.ErrLogic
	ErrSystem  = shelf.ErrSystem
	ErrBusy    = shelf.ErrBusy
)
