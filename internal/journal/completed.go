package journal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// CompletedFiles returns the names of every source file that has a
// [FICHIER] marker in the log at logPath. A missing log has none.
func CompletedFiles(logPath string) (map[string]struct{}, error) {
	completed := make(map[string]struct{})

	f, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return completed, nil
		}
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if name, ok := ParseFileMarker(scanner.Text()); ok {
			completed[name] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	return completed, nil
}

// UnfinishedFile returns the file of the last [FICHIER] block of the log when
// that block has no "Transcription :" line yet, meaning the run that started
// the file stopped before finishing it.
func UnfinishedFile(logPath string) (string, bool, error) {
	f, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	open := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := ParseFileMarker(line); ok {
			open = name
			continue
		}
		if strings.HasPrefix(line, transcriptionTimingPrefix) {
			open = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("read session log: %w", err)
	}
	return open, open != "", nil
}

// ParseFileMarker extracts the file name of a [FICHIER] line. The name ends
// at the last " | Date :" so names containing '|' survive; lines without the
// date part end at the first '|'.
func ParseFileMarker(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r"), FileMarkerPrefix)
	if !ok {
		return "", false
	}

	if cut := strings.LastIndex(rest, " | Date :"); cut >= 0 {
		rest = rest[:cut]
	} else if cut := strings.Index(rest, "|"); cut >= 0 {
		rest = rest[:cut]
	}

	name := strings.TrimSpace(rest)
	if name == "" {
		return "", false
	}
	return name, true
}
