package blobstore

import (
	"context"
	"fmt"
	"regexp"
)

// Store holds file bytes under tenant-derived hierarchical paths
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with an underscore
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// FilePath returns the storage locator <tenant>/<prompt>/<fileID>_<filename> for an uploaded file
func FilePath(tenantID, promptID, fileID, filename string) string {
	return fmt.Sprintf("%s/%s/%s_%s", SanitizeFilename(tenantID), SanitizeFilename(promptID), fileID, SanitizeFilename(filename))
}
