package paths_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vidforge/internal/paths"
)

var ctx = context.Background()

func newObjectManager(t *testing.T) (*paths.Manager, string) {
	t.Helper()
	bucket := t.TempDir()
	tmpDir := t.TempDir()
	m := paths.NewManager(paths.BackendObject, "", tmpDir, paths.NewLocalFS(bucket))
	return m, bucket
}

func writeBucketObject(t *testing.T, bucket, key, content string) {
	t.Helper()
	dst := filepath.Join(bucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte(content), 0o644))
}

func listTempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestManager_Resolve(t *testing.T) {
	root := t.TempDir()
	m := paths.NewManager(paths.BackendFilesystem, root, t.TempDir(), nil)

	path, err := m.Resolve(paths.FileRef{VideoID: "v1", Key: "hls/v1/segment-001.ts"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "hls", "v1", "segment-001.ts"), path)

	t.Run("rejected on object backend", func(t *testing.T) {
		objM, _ := newObjectManager(t)
		_, err := objM.Resolve(paths.FileRef{VideoID: "v1", Key: "a"})
		assert.Error(t, err)
	})
}

func TestManager_Materialize(t *testing.T) {
	t.Run("temp file removed after success", func(t *testing.T) {
		m, bucket := newObjectManager(t)
		writeBucketObject(t, bucket, "web/v1/720.mp4", "video-bytes")

		var seenPath string
		err := m.Materialize(ctx, paths.FileRef{VideoID: "v1", Key: "web/v1/720.mp4"}, func(path string) error {
			seenPath = path
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "video-bytes", string(data))
			return nil
		})
		require.NoError(t, err)

		_, statErr := os.Stat(seenPath)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("temp file removed after consumer error", func(t *testing.T) {
		m, bucket := newObjectManager(t)
		writeBucketObject(t, bucket, "web/v1/720.mp4", "video-bytes")

		var seenPath string
		consumerErr := errors.New("consumer blew up")
		err := m.Materialize(ctx, paths.FileRef{VideoID: "v1", Key: "web/v1/720.mp4"}, func(path string) error {
			seenPath = path
			return consumerErr
		})
		assert.ErrorIs(t, err, consumerErr)

		_, statErr := os.Stat(seenPath)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("nothing left behind after download failure", func(t *testing.T) {
		bucket := t.TempDir()
		tmpDir := t.TempDir()
		m := paths.NewManager(paths.BackendObject, "", tmpDir, paths.NewLocalFS(bucket))

		err := m.Materialize(ctx, paths.FileRef{VideoID: "v1", Key: "missing.mp4"}, func(string) error {
			t.Fatal("consumer must not run when the download fails")
			return nil
		})
		assert.Error(t, err)
		assert.Empty(t, listTempFiles(t, tmpDir))
	})
}

func TestManager_Store(t *testing.T) {
	t.Run("filesystem backend", func(t *testing.T) {
		root := t.TempDir()
		m := paths.NewManager(paths.BackendFilesystem, root, t.TempDir(), nil)

		src := filepath.Join(t.TempDir(), "result.mp4")
		require.NoError(t, os.WriteFile(src, []byte("final"), 0o644))

		ref := paths.FileRef{VideoID: "v1", Key: "web/v1/1080.mp4"}
		require.NoError(t, m.Store(ctx, ref, src))

		data, err := os.ReadFile(filepath.Join(root, "web", "v1", "1080.mp4"))
		require.NoError(t, err)
		assert.Equal(t, "final", string(data))

		// source is consumed
		_, statErr := os.Stat(src)
		assert.True(t, os.IsNotExist(statErr))
		assert.True(t, m.Exists(ctx, ref))
	})

	t.Run("repeated store with consumed source", func(t *testing.T) {
		root := t.TempDir()
		m := paths.NewManager(paths.BackendFilesystem, root, t.TempDir(), nil)

		src := filepath.Join(t.TempDir(), "result.mp4")
		require.NoError(t, os.WriteFile(src, []byte("final"), 0o644))

		ref := paths.FileRef{VideoID: "v1", Key: "web/v1/1080.mp4"}
		require.NoError(t, m.Store(ctx, ref, src))

		// the first store consumed src; the repeat sees the durable copy
		require.NoError(t, m.Store(ctx, ref, src))
		data, err := os.ReadFile(filepath.Join(root, "web", "v1", "1080.mp4"))
		require.NoError(t, err)
		assert.Equal(t, "final", string(data))

		// a missing source with nothing durable is still an error
		err = m.Store(ctx, paths.FileRef{VideoID: "v1", Key: "web/v1/480.mp4"}, src)
		assert.Error(t, err)
	})

	t.Run("object backend", func(t *testing.T) {
		m, bucket := newObjectManager(t)

		src := filepath.Join(t.TempDir(), "result.mp4")
		require.NoError(t, os.WriteFile(src, []byte("final"), 0o644))

		ref := paths.FileRef{VideoID: "v1", Key: "web/v1/1080.mp4"}
		require.NoError(t, m.Store(ctx, ref, src))

		data, err := os.ReadFile(filepath.Join(bucket, "web", "v1", "1080.mp4"))
		require.NoError(t, err)
		assert.Equal(t, "final", string(data))
		assert.True(t, m.Exists(ctx, ref))

		require.NoError(t, m.Remove(ctx, ref))
		assert.False(t, m.Exists(ctx, ref))
		// removal is idempotent
		require.NoError(t, m.Remove(ctx, ref))
	})
}

func TestKeyedLocks(t *testing.T) {
	t.Run("same key serializes", func(t *testing.T) {
		locks := paths.NewKeyedLocks()

		firstInside := make(chan struct{})
		firstDone := make(chan struct{})
		secondStarted := make(chan struct{})

		go locks.WithLock("video-1", func() {
			close(firstInside)
			<-firstDone
		})

		<-firstInside
		go func() {
			locks.WithLock("video-1", func() {
				close(secondStarted)
			})
		}()

		select {
		case <-secondStarted:
			t.Fatal("second caller entered the critical section while the first held the lock")
		case <-time.After(50 * time.Millisecond):
		}

		close(firstDone)
		select {
		case <-secondStarted:
		case <-time.After(time.Second):
			t.Fatal("second caller never entered the critical section")
		}
	})

	t.Run("different keys do not serialize", func(t *testing.T) {
		locks := paths.NewKeyedLocks()

		holdForever := make(chan struct{})
		defer close(holdForever)
		held := make(chan struct{})
		go locks.WithLock("video-1", func() {
			close(held)
			<-holdForever
		})
		<-held

		done := make(chan struct{})
		go locks.WithLock("video-2", func() {
			close(done)
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("unrelated video identity was blocked")
		}
	})

	t.Run("released on panic", func(t *testing.T) {
		locks := paths.NewKeyedLocks()

		func() {
			defer func() { _ = recover() }()
			locks.WithLock("video-1", func() {
				panic("boom")
			})
		}()

		reacquired := make(chan struct{})
		go locks.WithLock("video-1", func() {
			close(reacquired)
		})

		select {
		case <-reacquired:
		case <-time.After(time.Second):
			t.Fatal("lock was not released after panic")
		}
	})

	t.Run("WithLockE returns the function error", func(t *testing.T) {
		locks := paths.NewKeyedLocks()
		wantErr := errors.New("no luck")
		assert.ErrorIs(t, locks.WithLockE("video-1", func() error { return wantErr }), wantErr)
	})
}
