// Package shelf defines the uniform contract implemented by every storage
// engine in this module: the record-visitor protocol, the [DB] and [Cursor]
// interfaces, and the shared error vocabulary. The by-suffix Open
// dispatcher over the concrete engines (hashfile, btree, cachemap) lives in
// the module's root package, shelfdb.
//
// None of the three engines is imported here - this package only describes
// the shape they all share, so callers can depend on shelf.DB without
// committing to a concrete engine. Concrete engines import shelf, not the
// other way around.
package shelf
