package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const doneFlagSuffix = ".done.txt"

// DoneFlagName returns the marker file name {base}_chunk_{index}.done.txt.
func DoneFlagName(baseName string, index int) string {
	return baseName + "_chunk_" + strconv.Itoa(index) + doneFlagSuffix
}

// FileStore keeps one done-flag file per chunk next to the chunk artifacts.
// Each flag holds the chunk's transcribed text.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// IsDone reports whether the done-flag exists.
func (s *FileStore) IsDone(_ context.Context, baseName string, index int) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, DoneFlagName(baseName, index)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// MarkDone writes the flag through a synced temp file and a rename, so the
// flag is either absent or complete after a crash.
func (s *FileStore) MarkDone(ctx context.Context, baseName string, index int, text string) error {
	done, err := s.IsDone(ctx, baseName, index)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	target := filepath.Join(s.dir, DoneFlagName(baseName, index))
	tmp, err := os.CreateTemp(s.dir, ".done-*")
	if err != nil {
		return fmt.Errorf("create done-flag: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write done-flag: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync done-flag: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close done-flag: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move done-flag into place: %w", err)
	}
	return syncDir(s.dir)
}

// ListDone returns every chunk with a done-flag. Unparseable names are ignored.
func (s *FileStore) ListDone(_ context.Context) ([]Key, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var keys []Key
	for _, entry := range entries {
		stem, ok := strings.CutSuffix(entry.Name(), doneFlagSuffix)
		if entry.IsDir() || !ok {
			continue
		}
		cut := strings.LastIndex(stem, "_chunk_")
		if cut <= 0 {
			continue
		}
		index, err := strconv.Atoi(stem[cut+len("_chunk_"):])
		if err != nil || index < 0 {
			continue
		}
		keys = append(keys, Key{BaseName: stem[:cut], Index: index})
	}
	sortKeys(keys)
	return keys, nil
}

// Text returns the transcribed text stored in a done-flag.
func (s *FileStore) Text(_ context.Context, baseName string, index int) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, DoneFlagName(baseName, index)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close is a no-op; flags are synced on write.
func (s *FileStore) Close() error {
	return nil
}

// syncDir makes a rename inside dir durable. Platforms that cannot open a
// directory for sync are ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
