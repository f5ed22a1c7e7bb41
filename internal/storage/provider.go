// Package storage defines the vault file-system abstraction.
package storage

import "github.com/starford/othala/internal/models"

// Provider is the interface for vault file operations. All paths are
// relative to the vault root and use forward slashes.
type Provider interface {
	// List returns path, mtime and size for every .md file under dir.
	// It never reads file contents; content hashing is the caller's
	// second-tier concern.
	List(dir string) ([]models.FileInfo, error)
	// Stat returns metadata for a single vault file.
	Stat(path string) (models.FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
