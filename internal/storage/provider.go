// Package storage persists named snapshots of the memory tree.
package storage

// Provider is the interface the store persists through. Names are relative
// keys (a file name for FS, a row key for SQLite).
type Provider interface {
	// Read returns the bytes stored under name. A missing name yields an
	// error wrapping fs.ErrNotExist.
	Read(name string) ([]byte, error)
	// Write atomically replaces the bytes stored under name.
	Write(name string, content []byte) error
	// Move renames oldName to newName, replacing any existing newName.
	Move(oldName, newName string) error
}
