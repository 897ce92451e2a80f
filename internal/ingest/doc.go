// Package ingest implements the reading ingestion service: the single write
// path into the package store.
//
// Service.Ingest runs the read-classify-write cycle for one reading under a
// per-package lock, so concurrent readings for the same ID serialize while
// distinct IDs proceed in parallel. Every failure mode is translated to a
// status value at this boundary — Ingest never panics outward and never
// leaves a package half-written.
//
// Service.Reset clears the whole store under an exclusion lock equivalent to
// holding every per-package lock at once.
package ingest
