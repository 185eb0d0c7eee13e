package blobstore

import (
	"context"
	"testing"

	"prompt-rag/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "my_report__final_.pdf", SanitizeFilename("my report (final).pdf"))
	assert.Equal(t, ".._.._etc_passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "ok-name_1.txt", SanitizeFilename("ok-name_1.txt"))
}

func TestFilePath(t *testing.T) {
	assert.Equal(t, "tenant-a/p1/f1_notes_v2.md", FilePath("tenant-a", "p1", "f1", "notes v2.md"))
}

func TestStores(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	stores := map[string]Store{
		"local":  local,
		"memory": NewMemory(),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := FilePath("t1", "p1", "f1", "doc.txt")

			ok, err := s.Exists(ctx, path)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, path)
			assert.ErrorIs(t, err, apperr.ErrBlobNotFound)

			require.NoError(t, s.Put(ctx, path, []byte("hello")))
			ok, err = s.Exists(ctx, path)
			require.NoError(t, err)
			assert.True(t, ok)

			data, err := s.Get(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), data)

			require.NoError(t, s.Delete(ctx, path))
			require.NoError(t, s.Delete(ctx, path))
			ok, err = s.Exists(ctx, path)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLocalRejectsEscapingPaths(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = local.Put(context.Background(), "../outside.txt", []byte("x"))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}
