package filesystem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobfs"
)

func TestReadAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tf := newTestFS(t, nil)
	require.NoError(t, tf.mem.PutBlob(testRoot, "file", []byte("12345"), map[string]string{"owner": "me"}))
	tf.putMarker(t, "marked")
	tf.putFile(t, "virt/x", "x")

	t.Run("file", func(t *testing.T) {
		attrs, err := tf.ReadAttributes(ctx, tf.path(t, "file"))
		require.NoError(t, err)
		assert.Equal(t, []View{ViewBasic, ViewBlob}, attrs.Views())
		basic := attrs.Basic()
		assert.EqualValues(t, 5, basic.Size)
		assert.True(t, basic.IsRegular)
		assert.False(t, basic.IsDirectory)
		assert.False(t, basic.LastModified.IsZero())

		blob, err := attrs.Blob()
		require.NoError(t, err)
		assert.NotEmpty(t, blob.ETag)
		assert.Equal(t, "me", blob.Metadata["owner"])
		assert.False(t, blob.IsDirectoryMarker)

		v, err := attrs.View(ViewBlob)
		require.NoError(t, err)
		assert.Equal(t, blob, v)
	})

	t.Run("marker", func(t *testing.T) {
		attrs, err := tf.ReadAttributes(ctx, tf.path(t, "marked"))
		require.NoError(t, err)
		assert.True(t, attrs.Basic().IsDirectory)
		blob, err := attrs.Blob()
		require.NoError(t, err)
		assert.True(t, blob.IsDirectoryMarker)
	})

	for _, p := range []string{"virt", "default:"} {
		t.Run(p, func(t *testing.T) {
			attrs, err := tf.ReadAttributes(ctx, tf.path(t, p))
			require.NoError(t, err)
			assert.Equal(t, []View{ViewBasic}, attrs.Views())
			assert.True(t, attrs.Basic().IsDirectory)
			assert.False(t, attrs.Supports(ViewBlob))
			_, err = attrs.Blob()
			assert.ErrorIs(t, err, blobfs.ErrUnsupported)
			_, err = attrs.View(ViewBlob)
			assert.ErrorIs(t, err, blobfs.ErrUnsupported)
			v, err := attrs.View(ViewBasic)
			require.NoError(t, err)
			assert.IsType(t, BasicView{}, v)
		})
	}

	t.Run("unknown view", func(t *testing.T) {
		attrs, err := tf.ReadAttributes(ctx, tf.path(t, "file"))
		require.NoError(t, err)
		_, err = attrs.View("posix")
		assert.ErrorIs(t, err, blobfs.ErrUnsupported)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := tf.ReadAttributes(ctx, tf.path(t, "nope"))
		assert.ErrorIs(t, err, blobfs.ErrNotFound)
		_, err = tf.ReadAttributes(ctx, tf.path(t, "elsewhere:"))
		assert.ErrorIs(t, err, blobfs.ErrNotFound)
	})
}
