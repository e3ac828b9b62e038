package sqlite

import (
	"encoding/binary"
	"math"
)

// Embeddings are stored as a BLOB of little-endian IEEE 754 float64 values,
// 8 bytes per component. A nil slice maps to NULL.

func serializeEmbedding(embedding []float64) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func deserializeEmbedding(buf []byte) []float64 {
	if len(buf) == 0 || len(buf)%8 != 0 {
		return nil
	}
	embedding := make([]float64, len(buf)/8)
	for i := range embedding {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return embedding
}
