package api

import (
	"io"
)

// Storer defines the contract for a storage backend shared by the master and
// its workers.
//
// MapReduce assumes a shared file system: a map task writes intermediate
// files that a reduce task, possibly on another worker, reads back by name.
// Storer abstracts away the details of that file system (e.g., local disk,
// NFS, an object store).
type Storer interface {
	// OpenRead opens a file for reading.
	// Mappers use it for input files, reducers for intermediate files.
	OpenRead(path string) (io.ReadCloser, error)

	// OpenWrite opens a file for writing.
	//
	// Data must not become visible under path until Close returns without
	// error: readers either see the previous complete file or the new
	// complete file, never a partial one. A retried task attempt therefore
	// replaces its predecessor's output atomically.
	OpenWrite(path string) (io.WriteCloser, error)

	// Remove deletes a file. Removing a missing file is not an error.
	Remove(path string) error
}
