// Package storage defines the rules-directory abstraction holding rule documents.
package storage

import "github.com/starford/generalrules/internal/models"

// DocumentExt is the file extension of rule documents.
const DocumentExt = ".md"

// Provider is the interface for rule document operations.
type Provider interface {
	// List returns metadata for every rule document under dir (relative to root).
	List(dir string) ([]models.RuleMetadata, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to root).
	Delete(path string) error
	// Root returns the absolute rules directory.
	Root() string
}
