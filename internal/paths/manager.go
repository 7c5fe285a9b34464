package paths

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"vidforge/internal/apperrors"
)

// Backend selects where the authoritative copy of video files lives
type Backend string

const (
	BackendFilesystem Backend = "filesystem"
	BackendObject     Backend = "object"
)

// FileRef is a logical reference to one video artifact: the owning video
// identity plus the object key of the artifact (rendition file, playlist,
// segment, sprite).
type FileRef struct {
	VideoID string
	Key     string
}

// Manager is the video path manager. It hands out locally usable paths for
// artifacts on either backend and owns the per-video lock registry.
type Manager struct {
	backend  Backend
	root     string
	tmpDir   string
	provider StorageProvider
	locks    *KeyedLocks
}

func NewManager(backend Backend, root, tmpDir string, provider StorageProvider) *Manager {
	return &Manager{
		backend:  backend,
		root:     root,
		tmpDir:   tmpDir,
		provider: provider,
		locks:    NewKeyedLocks(),
	}
}

func (m *Manager) Backend() Backend { return m.backend }

// Resolve returns the permanent filesystem path of ref. Only valid on the
// filesystem backend; object-backed artifacts must go through Materialize.
func (m *Manager) Resolve(ref FileRef) (string, error) {
	if m.backend != BackendFilesystem {
		return "", apperrors.Validation("backend", "resolve requires the filesystem backend")
	}
	return filepath.Join(m.root, filepath.FromSlash(ref.Key)), nil
}

// Materialize downloads an object-backed artifact to a uniquely named
// temporary path, invokes consumer with it and removes the temporary file on
// every exit path: download failure, consumer failure or success.
func (m *Manager) Materialize(ctx context.Context, ref FileRef, consumer func(path string) error) error {
	if m.backend != BackendObject {
		return apperrors.Validation("backend", "materialize requires the object backend")
	}

	tmpPath := filepath.Join(m.tmpDir, fmt.Sprintf("vidforge-%s-%s", uuid.New().String(), filepath.Base(ref.Key)))
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", tmpPath).Msg("Could not remove materialized file")
		}
	}()

	if err := m.download(ctx, ref.Key, tmpPath); err != nil {
		return err
	}
	return consumer(tmpPath)
}

func (m *Manager) download(ctx context.Context, key, dst string) error {
	src, err := m.provider.GetObject(ctx, key)
	if err != nil {
		return apperrors.Internal("paths.materialize", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return apperrors.Internal("paths.materialize", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return apperrors.Internal("paths.materialize", err)
	}
	return out.Close()
}

// WithLocalFile hands consumer a local path for ref whichever backend is
// active. Filesystem-backed refs are consumed in place with no cleanup.
func (m *Manager) WithLocalFile(ctx context.Context, ref FileRef, consumer func(path string) error) error {
	if m.backend == BackendFilesystem {
		path, err := m.Resolve(ref)
		if err != nil {
			return err
		}
		return consumer(path)
	}
	return m.Materialize(ctx, ref, consumer)
}

// Store moves the file at srcPath into permanent storage under ref's key.
// The source file is consumed: it is removed once the copy is durable. A
// repeated store whose source was already consumed succeeds when ref is
// durable, so a retried completion can re-run the move.
func (m *Manager) Store(ctx context.Context, ref FileRef, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) && m.Exists(ctx, ref) {
			return nil
		}
		return apperrors.Internal("paths.store", err)
	}

	switch m.backend {
	case BackendFilesystem:
		dst := filepath.Join(m.root, filepath.FromSlash(ref.Key))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			_ = src.Close()
			return apperrors.Internal("paths.store", err)
		}
		out, err := os.Create(dst)
		if err != nil {
			_ = src.Close()
			return apperrors.Internal("paths.store", err)
		}
		if _, err := io.Copy(out, src); err != nil {
			_ = src.Close()
			_ = out.Close()
			return apperrors.Internal("paths.store", err)
		}
		if err := out.Close(); err != nil {
			_ = src.Close()
			return apperrors.Internal("paths.store", err)
		}
	case BackendObject:
		if _, err := m.provider.PutObject(ctx, ref.Key, src); err != nil {
			_ = src.Close()
			return apperrors.Internal("paths.store", err)
		}
	}

	if err := src.Close(); err != nil {
		return apperrors.Internal("paths.store", err)
	}
	if err := os.Remove(srcPath); err != nil {
		log.Error().Err(err).Str("path", srcPath).Msg("Could not remove source after store")
	}
	return nil
}

// Remove deletes ref from permanent storage. Missing artifacts are not an
// error; removal must be idempotent for out-of-order live updates.
func (m *Manager) Remove(ctx context.Context, ref FileRef) error {
	var err error
	switch m.backend {
	case BackendFilesystem:
		err = os.Remove(filepath.Join(m.root, filepath.FromSlash(ref.Key)))
	case BackendObject:
		err = m.provider.DeleteObject(ctx, ref.Key)
	}
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Internal("paths.remove", err)
	}
	return nil
}

// Exists reports whether ref currently has a durable copy
func (m *Manager) Exists(ctx context.Context, ref FileRef) bool {
	switch m.backend {
	case BackendFilesystem:
		_, err := os.Stat(filepath.Join(m.root, filepath.FromSlash(ref.Key)))
		return err == nil
	case BackendObject:
		rc, err := m.provider.GetObject(ctx, ref.Key)
		if err != nil {
			return false
		}
		_ = rc.Close()
		return true
	}
	return false
}

// WithVideoLock serializes fn against every other caller touching the same
// video's files, across job completion, studio edits and direct serving.
func (m *Manager) WithVideoLock(videoID string, fn func() error) error {
	return m.locks.WithLockE(videoID, fn)
}
