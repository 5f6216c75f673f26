package framestore

import (
	"context"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestFrameName(t *testing.T) {
	require.Equal(t, "cam3/abc/00000008-track2.jpg", FrameName(3, "abc", 8, 2))
}

func TestStorageFSRejectsBadNames(t *testing.T) {
	log := logs.NewTestingLog(t)
	fs, err := NewStorageFS(log, t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = fs.WriteFile(ctx, "../escape.jpg")
	require.Error(t, err)
	_, err = fs.ReadFile(ctx, "/etc/passwd")
	require.Error(t, err)
	require.Error(t, fs.DeleteFile(ctx, ""))
	_, err = fs.URL("x.jpg")
	require.ErrorIs(t, err, ErrNoPublicUrl)
}

func TestSaveFrame(t *testing.T) {
	log := logs.NewTestingLog(t)
	root := t.TempDir()
	store, err := New(context.Background(), log, Config{Filesystem: &FilesystemConfig{Root: root}})
	require.NoError(t, err)
	require.Equal(t, DefaultJPEGQuality, store.JPEGQuality)

	frame := nn.NewFrame(8, time.Now(), 64, 48, 3)
	for i := range frame.Pixels {
		frame.Pixels[i] = byte(i)
	}
	ctx := context.Background()
	name, err := store.SaveFrame(ctx, 1, "session1", 2, frame)
	require.NoError(t, err)
	require.Equal(t, "cam1/session1/00000008-track2.jpg", name)

	jpg, err := ReadFile(ctx, store.Storage, name)
	require.NoError(t, err)
	img, err := cimg.Decompress(jpg)
	require.NoError(t, err)
	require.Equal(t, 64, img.Width)
	require.Equal(t, 48, img.Height)

	f, err := store.OpenFrame(ctx, name)
	require.NoError(t, err)
	require.Equal(t, int64(len(jpg)), f.Size)
	f.Reader.Close()

	require.NoError(t, store.DeleteFrames(ctx, []string{name}))
	_, err = store.OpenFrame(ctx, name)
	require.Error(t, err)

	// Already gone, but the second name still gets a chance
	other, err := store.SaveFrame(ctx, 1, "session1", 3, frame)
	require.NoError(t, err)
	require.Error(t, store.DeleteFrames(ctx, []string{name, other}))
	_, err = store.OpenFrame(ctx, other)
	require.Error(t, err)
}

func TestNoBackend(t *testing.T) {
	log := logs.NewTestingLog(t)
	store, err := New(context.Background(), log, Config{})
	require.NoError(t, err)
	require.Nil(t, store)

	_, err = New(context.Background(), log, Config{Filesystem: &FilesystemConfig{Root: t.TempDir()}, GCS: &GCSConfig{Bucket: "b"}})
	require.Error(t, err)
}
