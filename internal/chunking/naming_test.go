package chunking

import (
	"errors"
	"testing"
)

// TestArtifactNameRoundTrip verifies names are parsed back to their key.
func TestArtifactNameRoundTrip(t *testing.T) {
	name := ArtifactName("meeting_chunk_notes", 12)
	if name != "meeting_chunk_notes_chunk_12.wav" {
		t.Fatalf("name = %q", name)
	}

	base, index, err := ParseArtifactName(name)
	if err != nil {
		t.Fatalf("ParseArtifactName() error = %v", err)
	}
	if base != "meeting_chunk_notes" || index != 12 {
		t.Fatalf("parsed = (%q, %d), want (meeting_chunk_notes, 12)", base, index)
	}
}

// TestParseArtifactNameMalformed verifies malformed names are rejected, not panicked on.
func TestParseArtifactNameMalformed(t *testing.T) {
	for _, name := range []string{
		"a.wav",
		"a-chunk-1.wav",
		"_chunk_3.wav",
		"a_chunk_x.wav",
		"a_chunk_-1.wav",
		"a_chunk_1.done.txt",
		"a_chunk_1.wav.part",
	} {
		if _, _, err := ParseArtifactName(name); !errors.Is(err, ErrMalformedChunkName) {
			t.Fatalf("ParseArtifactName(%q) error = %v, want ErrMalformedChunkName", name, err)
		}
	}
}

// TestBaseName verifies only the last extension is removed.
func TestBaseName(t *testing.T) {
	if got := BaseName("interview.2024.m4a"); got != "interview.2024" {
		t.Fatalf("BaseName() = %q", got)
	}
}
