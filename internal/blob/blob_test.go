package blob

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changeflow/internal/changerequest/models"
	dErrors "changeflow/pkg/domain-errors"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 32)...)
	pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
)

func TestDetect(t *testing.T) {
	assert.Equal(t, "image/png", Detect(pngBytes))
	assert.Equal(t, "application/pdf", Detect(pdfBytes))
	assert.Equal(t, "text/plain", Detect([]byte("hello world")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mime    string
		size    int64
		kind    models.FileKind
		wantErr string
	}{
		{name: "png signature", mime: "image/png", size: 1024, kind: models.FileKindSignature},
		{name: "pdf document", mime: "application/pdf", size: 5 << 20, kind: models.FileKindDocument},
		{name: "mime parameters ignored", mime: "image/jpeg; q=1", size: 10, kind: models.FileKindSignature},
		{name: "pdf signature rejected", mime: "application/pdf", size: 1024, kind: models.FileKindSignature, wantErr: "not allowed"},
		{name: "text document rejected", mime: "text/plain", size: 10, kind: models.FileKindDocument, wantErr: "not allowed"},
		{name: "signature too large", mime: "image/png", size: MaxSignatureSize + 1, kind: models.FileKindSignature, wantErr: "2 MB"},
		{name: "document too large", mime: "application/pdf", size: MaxDocumentSize + 1, kind: models.FileKindDocument, wantErr: "10 MB"},
		{name: "empty", mime: "image/png", size: 0, kind: models.FileKindSignature, wantErr: "empty"},
		{name: "unknown kind", mime: "image/png", size: 10, kind: "avatar", wantErr: "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mime, tt.size, tt.kind)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFSStore_Save(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	path, err := store.Save(ctx, pngBytes, models.FileKindSignature)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "signature/"))
	assert.True(t, strings.HasSuffix(path, ".png"))

	stored, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(path)))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, stored)

	t.Run("same content same path", func(t *testing.T) {
		again, err := store.Save(ctx, pngBytes, models.FileKindSignature)
		require.NoError(t, err)
		assert.Equal(t, path, again)
	})

	t.Run("different content different path", func(t *testing.T) {
		other, err := store.Save(ctx, pdfBytes, models.FileKindDocument)
		require.NoError(t, err)
		assert.NotEqual(t, path, other)
		assert.True(t, strings.HasSuffix(other, ".pdf"))
	})

	t.Run("open resolves stored blob", func(t *testing.T) {
		full, err := store.Open(path)
		require.NoError(t, err)
		assert.FileExists(t, full)
	})

	t.Run("open rejects traversal", func(t *testing.T) {
		_, err := store.Open("../etc/passwd")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("open missing", func(t *testing.T) {
		_, err := store.Open("signature/ff/missing.png")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestFSStore_SaveHonoursCancellation(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Save(ctx, pngBytes, models.FileKindSignature)
	require.ErrorIs(t, err, context.Canceled)
}
