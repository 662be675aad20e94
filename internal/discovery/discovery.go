// Package discovery lists the source recordings that still need processing.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"batch-transcriber/internal/domain"
)

// SupportedExtensions is the allow-list of source audio containers.
var SupportedExtensions = []string{".wav", ".mp3", ".m4a", ".aac", ".flac", ".ogg"}

// IsSupported reports whether name has a supported extension, ignoring case.
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// Discover returns the supported files of audioDir whose names are not in
// completed, oldest modification first. Equal times order by name. A missing
// directory yields no files.
func Discover(audioDir string, completed map[string]struct{}) ([]domain.AudioFile, error) {
	files, err := list(audioDir)
	if err != nil {
		return nil, err
	}

	pending := files[:0]
	for _, file := range files {
		if _, done := completed[file.Name]; done {
			continue
		}
		pending = append(pending, file)
	}
	return pending, nil
}

// FindByBaseName returns the supported file of audioDir whose name without
// extension is baseName. When several match the oldest wins.
func FindByBaseName(audioDir, baseName string) (domain.AudioFile, bool, error) {
	files, err := list(audioDir)
	if err != nil {
		return domain.AudioFile{}, false, err
	}
	for _, file := range files {
		if strings.TrimSuffix(file.Name, filepath.Ext(file.Name)) == baseName {
			return file, true, nil
		}
	}
	return domain.AudioFile{}, false, nil
}

func list(audioDir string) ([]domain.AudioFile, error) {
	entries, err := os.ReadDir(audioDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audio dir %s: %w", audioDir, err)
	}

	files := make([]domain.AudioFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsSupported(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, domain.AudioFile{
			Name:    entry.Name(),
			Path:    filepath.Join(audioDir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.Before(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}
