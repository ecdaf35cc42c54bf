package wal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nicexipi/vecengine/internal/vector"
)

// Kind distinguishes the two record shapes spec.md §4.10 names.
type Kind uint8

const (
	KindInsert Kind = 1
	KindDelete Kind = 2
)

// Record is one WAL entry: an Insert carries the full vector so replay can
// reconstruct `write` from scratch; a Delete carries only the pointer.
type Record struct {
	Kind            Kind
	ExternalPointer uint64
	Vector          vector.Vector // zero value for KindDelete
}

// encode serializes a record as spec.md §4.10's frame payload: WAL records
// carry a lossless per-vector-kind encoding (unlike internal/segment's
// growing-segment log, which only needs to rebuild an in-memory mirror) since
// replaying the WAL is the engine's actual crash-recovery path.
func encode(r Record) ([]byte, error) {
	switch r.Kind {
	case KindDelete:
		buf := make([]byte, 1+8)
		buf[0] = byte(KindDelete)
		binary.LittleEndian.PutUint64(buf[1:], r.ExternalPointer)
		return buf, nil
	case KindInsert:
		body, err := encodeVector(r.Vector)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 1+8+len(body))
		buf[0] = byte(KindInsert)
		binary.LittleEndian.PutUint64(buf[1:9], r.ExternalPointer)
		copy(buf[9:], body)
		return buf, nil
	default:
		return nil, fmt.Errorf("wal: unknown record kind %d", r.Kind)
	}
}

func decode(buf []byte) (Record, error) {
	if len(buf) < 1 {
		return Record{}, fmt.Errorf("wal: %w: empty record", ErrCorrupted)
	}
	kind := Kind(buf[0])
	switch kind {
	case KindDelete:
		if len(buf) != 9 {
			return Record{}, fmt.Errorf("wal: %w: delete record has %d bytes, want 9", ErrCorrupted, len(buf))
		}
		return Record{Kind: KindDelete, ExternalPointer: binary.LittleEndian.Uint64(buf[1:9])}, nil
	case KindInsert:
		if len(buf) < 9 {
			return Record{}, fmt.Errorf("wal: %w: insert record truncated before pointer", ErrCorrupted)
		}
		ptr := binary.LittleEndian.Uint64(buf[1:9])
		v, err := decodeVector(buf[9:])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindInsert, ExternalPointer: ptr, Vector: v}, nil
	default:
		return Record{}, fmt.Errorf("wal: %w: unknown record kind %d", ErrCorrupted, kind)
	}
}

func encodeVector(v vector.Vector) ([]byte, error) {
	var buf []byte
	buf = appendU8(buf, uint8(v.Kind))
	buf = appendU32(buf, uint32(v.Dims))
	switch v.Kind {
	case vector.KindDenseF32, vector.KindDenseF16:
		for _, x := range v.Dense.Data {
			buf = appendF32(buf, x)
		}
	case vector.KindSparseF32:
		buf = appendU32(buf, uint32(len(v.Sparse.Index)))
		for _, idx := range v.Sparse.Index {
			buf = appendU32(buf, idx)
		}
		for _, x := range v.Sparse.Values {
			buf = appendF32(buf, x)
		}
	case vector.KindBinary:
		buf = appendU32(buf, uint32(len(v.Binary.Words)))
		for _, w := range v.Binary.Words {
			buf = appendU64(buf, w)
		}
	case vector.KindQuantizedI8:
		for _, c := range v.Quant.Codes {
			buf = append(buf, byte(c))
		}
		buf = appendF32(buf, v.Quant.Alpha)
		buf = appendF32(buf, v.Quant.Offset)
		buf = appendF32(buf, v.Quant.Sum)
		buf = appendF32(buf, v.Quant.L2Norm)
	default:
		return nil, fmt.Errorf("wal: unknown vector kind %d", v.Kind)
	}
	return buf, nil
}

func decodeVector(buf []byte) (vector.Vector, error) {
	if len(buf) < 5 {
		return vector.Vector{}, fmt.Errorf("wal: %w: vector header truncated", ErrCorrupted)
	}
	kind := vector.Kind(buf[0])
	dims := int(binary.LittleEndian.Uint32(buf[1:5]))
	rest := buf[5:]

	switch kind {
	case vector.KindDenseF32, vector.KindDenseF16:
		if len(rest) < dims*4 {
			return vector.Vector{}, fmt.Errorf("wal: %w: dense vector truncated", ErrCorrupted)
		}
		data := make([]float32, dims)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(rest[i*4:]))
		}
		if kind == vector.KindDenseF32 {
			return vector.NewDenseF32(data), nil
		}
		return vector.NewDenseF16(data), nil
	case vector.KindSparseF32:
		if len(rest) < 4 {
			return vector.Vector{}, fmt.Errorf("wal: %w: sparse vector truncated", ErrCorrupted)
		}
		nnz := int(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]
		if len(rest) < nnz*4+nnz*4 {
			return vector.Vector{}, fmt.Errorf("wal: %w: sparse vector truncated", ErrCorrupted)
		}
		index := make([]uint32, nnz)
		for i := range index {
			index[i] = binary.LittleEndian.Uint32(rest[i*4:])
		}
		rest = rest[nnz*4:]
		values := make([]float32, nnz)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(rest[i*4:]))
		}
		return vector.NewSparseF32(dims, index, values), nil
	case vector.KindBinary:
		if len(rest) < 4 {
			return vector.Vector{}, fmt.Errorf("wal: %w: binary vector truncated", ErrCorrupted)
		}
		nwords := int(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]
		if len(rest) < nwords*8 {
			return vector.Vector{}, fmt.Errorf("wal: %w: binary vector truncated", ErrCorrupted)
		}
		words := make([]uint64, nwords)
		for i := range words {
			words[i] = binary.LittleEndian.Uint64(rest[i*8:])
		}
		return vector.NewBinary(dims, words), nil
	case vector.KindQuantizedI8:
		if len(rest) < dims+16 {
			return vector.Vector{}, fmt.Errorf("wal: %w: quantized vector truncated", ErrCorrupted)
		}
		codes := make([]int8, dims)
		for i := range codes {
			codes[i] = int8(rest[i])
		}
		tail := rest[dims:]
		q := vector.QuantizedI8{
			Dims:   dims,
			Codes:  codes,
			Alpha:  math.Float32frombits(binary.LittleEndian.Uint32(tail[0:4])),
			Offset: math.Float32frombits(binary.LittleEndian.Uint32(tail[4:8])),
			Sum:    math.Float32frombits(binary.LittleEndian.Uint32(tail[8:12])),
			L2Norm: math.Float32frombits(binary.LittleEndian.Uint32(tail[12:16])),
		}
		return vector.NewQuantizedI8(q), nil
	default:
		return vector.Vector{}, fmt.Errorf("wal: %w: unknown vector kind %d", ErrCorrupted, kind)
	}
}

func appendU8(buf []byte, x uint8) []byte  { return append(buf, x) }
func appendU32(buf []byte, x uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], x)
	return append(buf, b[:]...)
}
func appendU64(buf []byte, x uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	return append(buf, b[:]...)
}
func appendF32(buf []byte, x float32) []byte {
	return appendU32(buf, math.Float32bits(x))
}
