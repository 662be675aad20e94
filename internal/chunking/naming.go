package chunking

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ArtifactExt is the container of every produced chunk.
const ArtifactExt = ".wav"

const chunkSeparator = "_chunk_"

// ErrMalformedChunkName marks a chunks directory entry that is not a chunk artifact.
var ErrMalformedChunkName = errors.New("malformed chunk name")

// BaseName strips the extension from a source file name.
func BaseName(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// ArtifactName returns the deterministic chunk file name {base}_chunk_{index}.wav.
func ArtifactName(baseName string, index int) string {
	return baseName + chunkSeparator + strconv.Itoa(index) + ArtifactExt
}

// ParseArtifactName reverses ArtifactName. The last "_chunk_" separator wins,
// so base names may themselves contain it.
func ParseArtifactName(name string) (string, int, error) {
	stem, ok := strings.CutSuffix(name, ArtifactExt)
	if !ok {
		return "", 0, fmt.Errorf("%w: %s has no %s extension", ErrMalformedChunkName, name, ArtifactExt)
	}

	cut := strings.LastIndex(stem, chunkSeparator)
	if cut <= 0 {
		return "", 0, fmt.Errorf("%w: %s", ErrMalformedChunkName, name)
	}

	index, err := strconv.Atoi(stem[cut+len(chunkSeparator):])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("%w: %s has no chunk index", ErrMalformedChunkName, name)
	}
	return stem[:cut], index, nil
}
