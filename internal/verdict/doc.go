// Package verdict holds the pure classification logic that maps a package's
// baseline and current seal resistance to an integrity status. It has no
// dependencies and performs no I/O — every decision elsewhere in the server
// is derived from Classify.
package verdict
