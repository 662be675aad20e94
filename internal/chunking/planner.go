package chunking

import (
	"fmt"

	"batch-transcriber/internal/domain"
)

// Plan splits a file of totalMs milliseconds into consecutive chunks of
// chunkMs. Chunk i spans [i*chunkMs, min((i+1)*chunkMs, totalMs)). An empty
// file yields one zero-length chunk.
func Plan(fileName string, totalMs, chunkMs int64) ([]domain.ChunkSpec, error) {
	if chunkMs <= 0 {
		return nil, fmt.Errorf("chunk length must be positive, got %d ms", chunkMs)
	}
	if totalMs < 0 {
		return nil, fmt.Errorf("duration of %s must not be negative, got %d ms", fileName, totalMs)
	}
	if totalMs == 0 {
		return []domain.ChunkSpec{{FileName: fileName}}, nil
	}

	count := (totalMs + chunkMs - 1) / chunkMs
	specs := make([]domain.ChunkSpec, 0, count)
	for i := int64(0); i < count; i++ {
		specs = append(specs, domain.ChunkSpec{
			FileName: fileName,
			Index:    int(i),
			StartMs:  i * chunkMs,
			EndMs:    min((i+1)*chunkMs, totalMs),
		})
	}
	return specs, nil
}
