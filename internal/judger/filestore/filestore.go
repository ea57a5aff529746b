// Package filestore resolves stored files to verified local copies.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"judger/internal/common/cache"
	"judger/internal/common/db"
	"judger/internal/common/storage"
	"judger/internal/judger/model"
	pkgerrors "judger/pkg/errors"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	lockKeyPrefix = "judger:file:lock:"
	metaKeyPrefix = "judger:file:meta:"

	defaultLockTTL      = 5 * time.Minute
	defaultLockWait     = 30 * time.Second
	defaultPollInterval = 200 * time.Millisecond
	defaultMetaTTL      = 10 * time.Minute
)

const selectFile = `SELECT id, hash, name, type, owner, description, compression, created FROM files WHERE id = ?`

// Config controls where files are cached and how long downloads may wait.
type Config struct {
	Root         string        `yaml:"root"`
	Bucket       string        `yaml:"bucket"`
	LockTTL      time.Duration `yaml:"lockTTL"`
	LockWait     time.Duration `yaml:"lockWait"`
	PollInterval time.Duration `yaml:"pollInterval"`
	MetaTTL      time.Duration `yaml:"metaTTL"`
}

// Store resolves file ids through MySQL metadata and MinIO objects. Content
// is cached on disk by hash and shared by every worker of the host.
type Store struct {
	cfg     Config
	db      db.Querier
	objects storage.ObjectStorage
	cache   cache.Cache
}

// New creates a file store.
func New(cfg Config, database db.Querier, objects storage.ObjectStorage, c cache.Cache) *Store {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MetaTTL <= 0 {
		cfg.MetaTTL = defaultMetaTTL
	}
	return &Store{cfg: cfg, db: database, objects: objects, cache: c}
}

// Resolve returns the file's metadata with Path pointing at a local copy of
// its decoded content.
func (s *Store) Resolve(ctx context.Context, id string) (model.File, error) {
	if id == "" {
		return model.File{}, pkgerrors.ValidationError("file_id", "required")
	}
	if s.db == nil || s.objects == nil || s.cache == nil || s.cfg.Root == "" {
		return model.File{}, pkgerrors.New(pkgerrors.FileStoreNotReady)
	}
	file, err := s.lookup(ctx, id)
	if err != nil {
		return model.File{}, err
	}
	if !validHash(file.Hash) {
		return model.File{}, pkgerrors.ValidationError("hash", "must be a sha256 hex digest").WithDetail("file_id", id)
	}

	path := s.pathFor(file.Hash)
	if !exists(path) {
		if err := s.fetch(ctx, file, path); err != nil {
			return model.File{}, err
		}
	}
	file.Path = path
	return file, nil
}

func (s *Store) lookup(ctx context.Context, id string) (model.File, error) {
	return cache.GetOrLoad(ctx, s.cache, metaKeyPrefix+id, s.cfg.MetaTTL,
		func(f model.File) (string, error) {
			raw, err := json.Marshal(f)
			return string(raw), err
		},
		func(raw string) (model.File, error) {
			var f model.File
			err := json.Unmarshal([]byte(raw), &f)
			return f, err
		},
		func(ctx context.Context) (model.File, error) {
			var f model.File
			err := s.db.QueryRow(ctx, selectFile, id).Scan(
				&f.ID, &f.Hash, &f.Name, &f.Type, &f.Owner, &f.Description, &f.Compression, &f.Created,
			)
			if db.IsNoRows(err) {
				return model.File{}, pkgerrors.New(pkgerrors.FileNotFound).WithDetail("file_id", id)
			}
			if err != nil {
				return model.File{}, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "query file %s failed: %v", id, err)
			}
			return f, nil
		},
	)
}

func (s *Store) pathFor(hash string) string {
	hash = strings.ToLower(hash)
	return filepath.Join(s.cfg.Root, hash[:2], hash)
}

// fetch downloads the object once across processes: the lock holder writes
// the file, everyone else waits for it to appear.
func (s *Store) fetch(ctx context.Context, file model.File, path string) error {
	lockKey := lockKeyPrefix + strings.ToLower(file.Hash)
	token := uuid.NewString()
	locked, err := s.cache.TryLock(ctx, lockKey, token, s.cfg.LockTTL)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.LockFailed, "acquire file lock failed: %v", err)
	}
	if !locked {
		return s.waitForFile(ctx, path)
	}
	defer func() {
		_ = s.cache.Unlock(context.WithoutCancel(ctx), lockKey, token)
	}()

	if exists(path) {
		return nil
	}
	return s.download(ctx, file, path)
}

func (s *Store) waitForFile(ctx context.Context, path string) error {
	deadline := time.Now().Add(s.cfg.LockWait)
	for {
		if exists(path) {
			return nil
		}
		if time.Now().After(deadline) {
			return pkgerrors.New(pkgerrors.FileCacheTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *Store) download(ctx context.Context, file model.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "create cache dir failed: %v", err)
	}
	reader, err := s.objects.Fetch(ctx, s.cfg.Bucket, strings.ToLower(file.Hash))
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.FileFetchFailed, "download file %s failed: %v", file.ID, err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "create temp file failed: %v", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	raw := io.TeeReader(reader, hasher)
	if err := decodeTo(tmp, raw, file.Compression); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.FileDecodeFailed, "decode file %s failed: %v", file.ID, err)
	}
	// The hash covers the stored bytes, so anything the decoder left unread
	// still has to pass through the hasher.
	if _, err := io.Copy(io.Discard, raw); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.FileFetchFailed, "read file %s failed: %v", file.ID, err)
	}
	if actual := hex.EncodeToString(hasher.Sum(nil)); !strings.EqualFold(actual, file.Hash) {
		return pkgerrors.New(pkgerrors.FileHashMismatch).
			WithDetail("file_id", file.ID).
			WithDetail("expected", file.Hash).
			WithDetail("actual", actual)
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "close temp file failed: %v", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "commit file failed: %v", err)
	}
	committed = true
	return nil
}

func decodeTo(dst io.Writer, src io.Reader, compression string) error {
	switch compression {
	case "":
		_, err := io.Copy(dst, src)
		return err
	case model.CompressionZstd:
		dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		defer dec.Close()
		_, err = io.Copy(dst, dec)
		return err
	default:
		return pkgerrors.Newf(pkgerrors.FileDecodeFailed, "unsupported compression %q", compression)
	}
}

func validHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
