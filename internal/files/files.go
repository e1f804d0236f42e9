// Package files stores attachment bodies outside the database.
package files

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Blobs is a flat namespace of attachment bodies keyed by stored name.
type Blobs interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9а-яёА-ЯЁ]`)

// StoredName derives a unique, path-safe blob name from an uploaded file name,
// keeping the extension: "Отчёт 2024.pdf" -> "Отчёт_2024-<uuid>.pdf".
func StoredName(original string) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	ext := filepath.Ext(base)
	if !safeExt(ext) {
		ext = ""
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" || name == "." {
		name = "file"
	}
	return name + "-" + uuid.NewString() + ext
}

func safeExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 10 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// validName rejects names that could escape the blob namespace.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}
