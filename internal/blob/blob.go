// Package blob stores uploaded signatures and documents on the local filesystem under
// content-addressed names.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"

	"changeflow/internal/changerequest/models"
	dErrors "changeflow/pkg/domain-errors"
)

const (
	MaxSignatureSize = 2 << 20
	MaxDocumentSize  = 10 << 20
)

var (
	signatureTypes = []string{"image/png", "image/jpeg"}
	documentTypes  = []string{
		"application/pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"image/png",
		"image/jpeg",
	}
)

// Detect sniffs the MIME type of data, without parameters.
func Detect(data []byte) string {
	return baseType(mimetype.Detect(data).String())
}

func baseType(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Validate checks that an upload of the given type and size is accepted for kind.
func Validate(mime string, size int64, kind models.FileKind) error {
	var (
		allowed []string
		limit   int64
	)
	switch kind {
	case models.FileKindSignature:
		allowed, limit = signatureTypes, MaxSignatureSize
	case models.FileKindDocument:
		allowed, limit = documentTypes, MaxDocumentSize
	default:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported file kind %q", kind))
	}
	if size <= 0 {
		return dErrors.New(dErrors.CodeValidation, "file is empty")
	}
	if size > limit {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s exceeds the %d MB limit", kind, limit>>20))
	}
	if !slices.Contains(allowed, baseType(mime)) {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("file type %s is not allowed for %s", mime, kind))
	}
	return nil
}

// FSStore writes blobs below a root directory.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Save writes data and returns its path relative to the root. Identical content maps to
// the same path, so repeated uploads are stored once.
func (s *FSStore) Save(ctx context.Context, data []byte, kind models.FileKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	name := hex.EncodeToString(sum[:]) + mimetype.Detect(data).Extension()
	rel := filepath.Join(string(kind), name[:2], name)
	full := filepath.Join(s.root, rel)

	if _, err := os.Stat(full); err == nil {
		return filepath.ToSlash(rel), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat blob: %w", err)
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Open returns the absolute path of a stored blob.
func (s *FSStore) Open(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid blob path")
	}
	full := filepath.Join(s.root, clean)
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", dErrors.New(dErrors.CodeNotFound, "blob not found")
		}
		return "", fmt.Errorf("stat blob: %w", err)
	}
	return full, nil
}

// Validate applies the package policy. It lets FSStore satisfy the engine's blob port.
func (s *FSStore) Validate(mime string, size int64, kind models.FileKind) error {
	return Validate(mime, size, kind)
}
