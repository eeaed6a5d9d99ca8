package shelf

// OpenFlags is the open-mode bitmask from spec section 6.
type OpenFlags uint32

const (
	OReader    OpenFlags = 1 << iota // open for reading
	OWriter                          // open for writing
	OCreate                          // create the file if it does not exist
	OTruncate                        // truncate the file on open
	OAutoTran                        // accepted, but no engine in this module reads it: mutations are not wrapped in transactions
	OAutoSync                        // hard-sync after every mutation (no transactions)
	ONoLock                          // skip the cross-process file lock
	OTryLock                         // fail fast instead of blocking on the file lock
	ONoRepair                        // disable auto-repair on unclean shutdown
)

// Has reports whether all bits in want are set in f.
func (f OpenFlags) Has(want OpenFlags) bool { return f&want == want }
