// Package docstore is a directory-backed document store.
//
// A [DB] owns a base directory and a set of named [Collection]s. Each
// collection is a subdirectory holding one JSON file per record:
//
//	<base>/<collection>/<percent-encoded id>.json
//
// Files are the only state. There is no index, no cross-record transaction
// and no schema: a [Record] is whatever JSON object was last written.
package docstore
