// Package chunking splits long-form entity text into overlapping fixed-size
// windows suitable for embedding. Chunking is deterministic: identical input
// and configuration always yield the identical sequence.
package chunking

import (
	"fmt"
	"strings"
)

// ErrBadGeometry is returned when size <= overlap, which would make the
// window slide step non-positive.
var ErrBadGeometry = fmt.Errorf("chunk size must exceed overlap")

// Chunk splits text into whitespace-token windows of at most size tokens.
// Each window after the first starts overlap tokens before the previous
// window's end, so consecutive windows slide by (size - overlap). Empty or
// whitespace-only input produces an empty sequence. The final chunk may be
// shorter than size.
func Chunk(text string, size, overlap int) ([]string, error) {
	if size <= 0 || overlap < 0 || size <= overlap {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrBadGeometry, size, overlap)
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	step := size - overlap
	chunks := make([]string, 0, (len(tokens)+step-1)/step)
	for start := 0; start < len(tokens); start += step {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}

// ChunkRunes is the character-unit variant of Chunk: windows are measured in
// runes instead of whitespace tokens. Same geometry rules and determinism.
func ChunkRunes(text string, size, overlap int) ([]string, error) {
	if size <= 0 || overlap < 0 || size <= overlap {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrBadGeometry, size, overlap)
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil, nil
	}

	step := size - overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

// Split applies the configured unit: "runes" selects ChunkRunes, anything
// else the whitespace-token Chunk.
func Split(text, unit string, size, overlap int) ([]string, error) {
	if unit == "runes" {
		return ChunkRunes(text, size, overlap)
	}
	return Chunk(text, size, overlap)
}
