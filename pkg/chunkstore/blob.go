package chunkstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// embeddingTag is the format marker at the start of every embedding blob.
const embeddingTag = 0x01

// encodeEmbedding packs a vector as: 1 tag byte, uint32 LE dimension,
// then one float32 LE per component.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 1+4+4*len(vec))
	buf[0] = embeddingTag
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[5+4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding is the inverse of encodeEmbedding.
func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob) < 5 {
		return nil, fmt.Errorf("embedding blob too short (%d bytes)", len(blob))
	}
	if blob[0] != embeddingTag {
		return nil, fmt.Errorf("unknown embedding blob tag 0x%02x", blob[0])
	}
	dim := int(binary.LittleEndian.Uint32(blob[1:5]))
	if len(blob) != 5+4*dim {
		return nil, fmt.Errorf("embedding blob length %d does not match dimension %d", len(blob), dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[5+4*i:]))
	}
	return vec, nil
}
