// Package stash maps torrent pieces to fixed-size slots in a multi-file
// payload on disk. It verifies existing data against piece hashes on resume,
// materializes slot backing lazily, and serves concurrent per-piece reads and
// writes.
package stash
