package segment

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"

	"github.com/nicexipi/vecengine/internal/mmaparray"
	"github.com/nicexipi/vecengine/internal/scalar"
	"github.com/nicexipi/vecengine/internal/vector"
)

// RawSegment is an unindexed store of vectors + payloads behind
// random-access getters (spec.md §4.6), backed by mmap-arrays whose layout
// depends on the vector kind (spec.md §4.3):
//   - Dense F32/F16: vectors[] (dims scalars per row), payload[]
//   - Sparse F32:    indexes[], values[], offsets[len+1], payload[]
//   - Binary:        vectors[] (bit-packed), payload[]
//   - Quantized I8:  vectors[], alphas[], offsets[], sums[], l2_norms[], payload[]
//
// It is used directly by the trivial quantizer and as the training source
// for scalar/product quantizers (quantize.RawAccessor).
type RawSegment struct {
	handle Handle
	kind   vector.Kind
	dims   int

	vectors *mmaparray.Array // dense/binary/i8 codes; nil for sparse
	indexes *mmaparray.Array // sparse only
	values  *mmaparray.Array // sparse only
	offsets *mmaparray.Array // sparse only: len+1 uint64 cumulative counts
	alphas  *mmaparray.Array // i8 only
	qoff    *mmaparray.Array // i8 only (per-vector offset, not to be confused with sparse offsets)
	sums    *mmaparray.Array // i8 only
	l2norms *mmaparray.Array // i8 only
	payload *mmaparray.Array
}

func (r *RawSegment) Handle() Handle   { return r.handle }
func (r *RawSegment) Kind() vector.Kind { return r.kind }
func (r *RawSegment) Dims() int        { return r.dims }

// Len implements quantize.RawAccessor.
func (r *RawSegment) Len() uint32 { return uint32(r.payload.Len()) }

func (r *RawSegment) Payload(i uint32) uint64 {
	return binary.LittleEndian.Uint64(r.payload.Record(int(i)))
}

// Vector implements quantize.RawAccessor: decode record i back into a
// vector.Vector of the segment's kind.
func (r *RawSegment) Vector(i uint32) vector.Vector {
	idx := int(i)
	switch r.kind {
	case vector.KindDenseF32:
		rec := r.vectors.Record(idx)
		data := make([]float32, r.dims)
		for d := 0; d < r.dims; d++ {
			data[d] = math.Float32frombits(binary.LittleEndian.Uint32(rec[d*4:]))
		}
		return vector.NewDenseF32(data)
	case vector.KindDenseF16:
		rec := r.vectors.Record(idx)
		data := make([]float32, r.dims)
		for d := 0; d < r.dims; d++ {
			bits := binary.LittleEndian.Uint16(rec[d*2:])
			data[d] = float32(scalar.F16FromBits(bits))
		}
		return vector.NewDenseF16(data)
	case vector.KindBinary:
		rec := r.vectors.Record(idx)
		words := make([]uint64, len(rec)/8)
		for w := range words {
			words[w] = binary.LittleEndian.Uint64(rec[w*8:])
		}
		return vector.NewBinary(r.dims, words)
	case vector.KindQuantizedI8:
		rec := r.vectors.Record(idx)
		codes := make([]int8, r.dims)
		for d := 0; d < r.dims; d++ {
			codes[d] = int8(rec[d])
		}
		alpha := math.Float32frombits(binary.LittleEndian.Uint32(r.alphas.Record(idx)))
		offset := math.Float32frombits(binary.LittleEndian.Uint32(r.qoff.Record(idx)))
		sum := math.Float32frombits(binary.LittleEndian.Uint32(r.sums.Record(idx)))
		l2 := math.Float32frombits(binary.LittleEndian.Uint32(r.l2norms.Record(idx)))
		return vector.NewQuantizedI8(vector.QuantizedI8{
			Dims: r.dims, Codes: codes, Alpha: alpha, Offset: offset, Sum: sum, L2Norm: l2,
		})
	case vector.KindSparseF32:
		start := binary.LittleEndian.Uint64(r.offsets.Record(idx))
		end := binary.LittleEndian.Uint64(r.offsets.Record(idx + 1))
		n := int(end - start)
		index := make([]uint32, n)
		values := make([]float32, n)
		for j := 0; j < n; j++ {
			index[j] = binary.LittleEndian.Uint32(r.indexes.Record(int(start) + j))
			values[j] = math.Float32frombits(binary.LittleEndian.Uint32(r.values.Record(int(start) + j)))
		}
		return vector.NewSparseF32(r.dims, index, values)
	default:
		return vector.Vector{}
	}
}

// Close unmaps every backing array. Safe to call once.
func (r *RawSegment) Close() error {
	var first error
	for _, a := range []*mmaparray.Array{r.vectors, r.indexes, r.values, r.offsets, r.alphas, r.qoff, r.sums, r.l2norms, r.payload} {
		if a == nil {
			continue
		}
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Builder streams rows to a new raw segment (spec.md §4.3: "the client
// pushes records through a streaming iterator").
type Builder struct {
	dir    string
	handle Handle
	kind   vector.Kind
	dims   int

	vectors *mmaparray.Builder
	indexes *mmaparray.Builder
	values  *mmaparray.Builder
	offsets *mmaparray.Builder
	alphas  *mmaparray.Builder
	qoff    *mmaparray.Builder
	sums    *mmaparray.Builder
	l2norms *mmaparray.Builder
	payload *mmaparray.Builder

	sparseCount uint64
}

// NewBuilder creates (but does not yet populate) the mmap-array files for a
// new raw segment under dir/<handle>/.
func NewBuilder(dir string, kind vector.Kind, dims int) (*Builder, error) {
	h := NewHandle()
	segDir := filepath.Join(dir, h.String())
	if err := ensureDir(segDir); err != nil {
		return nil, err
	}
	b := &Builder{dir: segDir, handle: h, kind: kind, dims: dims}

	var err error
	if b.payload, err = mmaparray.NewBuilder(filepath.Join(segDir, "payload"), 8); err != nil {
		return nil, err
	}
	switch kind {
	case vector.KindDenseF32:
		b.vectors, err = mmaparray.NewBuilder(filepath.Join(segDir, "vectors"), dims*4)
	case vector.KindDenseF16:
		b.vectors, err = mmaparray.NewBuilder(filepath.Join(segDir, "vectors"), dims*2)
	case vector.KindBinary:
		b.vectors, err = mmaparray.NewBuilder(filepath.Join(segDir, "vectors"), wordsFor(dims)*8)
	case vector.KindQuantizedI8:
		if b.vectors, err = mmaparray.NewBuilder(filepath.Join(segDir, "vectors"), dims); err != nil {
			break
		}
		if b.alphas, err = mmaparray.NewBuilder(filepath.Join(segDir, "alphas"), 4); err != nil {
			break
		}
		if b.qoff, err = mmaparray.NewBuilder(filepath.Join(segDir, "offsets_i8"), 4); err != nil {
			break
		}
		if b.sums, err = mmaparray.NewBuilder(filepath.Join(segDir, "sums"), 4); err != nil {
			break
		}
		b.l2norms, err = mmaparray.NewBuilder(filepath.Join(segDir, "l2norms"), 4)
	case vector.KindSparseF32:
		if b.indexes, err = mmaparray.NewBuilder(filepath.Join(segDir, "indexes"), 4); err != nil {
			break
		}
		if b.values, err = mmaparray.NewBuilder(filepath.Join(segDir, "values"), 4); err != nil {
			break
		}
		b.offsets, err = mmaparray.NewBuilder(filepath.Join(segDir, "offsets"), 8)
		if err == nil {
			err = b.offsets.Push(encodeU64(0))
		}
	default:
		return nil, fmt.Errorf("segment: unsupported vector kind %s", kind)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// OpenRawSegment reopens a raw segment's backing mmap-arrays from dir
// (the directory Builder.Finish left behind), without rewriting them. Used
// by internal/engine's restart path to bring a catalog-recorded sealed
// segment back into memory: handle/kind/dims come from the catalog
// entry and the instance's own vector config, since internal/catalog only
// persists ID/Kind/Path/RowCount, not the segment's internal shape.
func OpenRawSegment(dir string, handle Handle, kind vector.Kind, dims int) (*RawSegment, error) {
	r := &RawSegment{handle: handle, kind: kind, dims: dims}
	var err error
	if r.payload, err = mmaparray.Open(filepath.Join(dir, "payload"), 8); err != nil {
		return nil, err
	}
	switch kind {
	case vector.KindDenseF32:
		r.vectors, err = mmaparray.Open(filepath.Join(dir, "vectors"), dims*4)
	case vector.KindDenseF16:
		r.vectors, err = mmaparray.Open(filepath.Join(dir, "vectors"), dims*2)
	case vector.KindBinary:
		r.vectors, err = mmaparray.Open(filepath.Join(dir, "vectors"), wordsFor(dims)*8)
	case vector.KindQuantizedI8:
		if r.vectors, err = mmaparray.Open(filepath.Join(dir, "vectors"), dims); err != nil {
			break
		}
		if r.alphas, err = mmaparray.Open(filepath.Join(dir, "alphas"), 4); err != nil {
			break
		}
		if r.qoff, err = mmaparray.Open(filepath.Join(dir, "offsets_i8"), 4); err != nil {
			break
		}
		if r.sums, err = mmaparray.Open(filepath.Join(dir, "sums"), 4); err != nil {
			break
		}
		r.l2norms, err = mmaparray.Open(filepath.Join(dir, "l2norms"), 4)
	case vector.KindSparseF32:
		if r.indexes, err = mmaparray.Open(filepath.Join(dir, "indexes"), 4); err != nil {
			break
		}
		if r.values, err = mmaparray.Open(filepath.Join(dir, "values"), 4); err != nil {
			break
		}
		r.offsets, err = mmaparray.Open(filepath.Join(dir, "offsets"), 8)
	default:
		return nil, fmt.Errorf("segment: unsupported vector kind %s", kind)
	}
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func wordsFor(dims int) int { return (dims + 63) / 64 }

func encodeU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func encodeF32(v float32) []byte { return encodeU32(math.Float32bits(v)) }

// Push appends one row, validating that v matches the builder's kind/dims.
func (b *Builder) Push(v vector.Vector, payload uint64) error {
	if v.Kind != b.kind || v.Dims != b.dims {
		return fmt.Errorf("segment: row kind/dims mismatch: got (%s,%d), want (%s,%d)", v.Kind, v.Dims, b.kind, b.dims)
	}
	if err := v.Validate(); err != nil {
		return err
	}
	if err := b.payload.Push(encodeU64(payload)); err != nil {
		return err
	}
	switch b.kind {
	case vector.KindDenseF32:
		rec := make([]byte, b.dims*4)
		for d, x := range v.Dense.Data {
			binary.LittleEndian.PutUint32(rec[d*4:], math.Float32bits(x))
		}
		return b.vectors.Push(rec)
	case vector.KindDenseF16:
		rec := make([]byte, b.dims*2)
		for d, x := range v.Dense.Data {
			binary.LittleEndian.PutUint16(rec[d*2:], scalar.F16(x).ToBits())
		}
		return b.vectors.Push(rec)
	case vector.KindBinary:
		rec := make([]byte, wordsFor(b.dims)*8)
		for w, word := range v.Binary.Words {
			binary.LittleEndian.PutUint64(rec[w*8:], word)
		}
		return b.vectors.Push(rec)
	case vector.KindQuantizedI8:
		rec := make([]byte, b.dims)
		for d, c := range v.Quant.Codes {
			rec[d] = byte(c)
		}
		if err := b.vectors.Push(rec); err != nil {
			return err
		}
		if err := b.alphas.Push(encodeF32(v.Quant.Alpha)); err != nil {
			return err
		}
		if err := b.qoff.Push(encodeF32(v.Quant.Offset)); err != nil {
			return err
		}
		if err := b.sums.Push(encodeF32(v.Quant.Sum)); err != nil {
			return err
		}
		return b.l2norms.Push(encodeF32(v.Quant.L2Norm))
	case vector.KindSparseF32:
		for j, idx := range v.Sparse.Index {
			if err := b.indexes.Push(encodeU32(idx)); err != nil {
				return err
			}
			if err := b.values.Push(encodeF32(v.Sparse.Values[j])); err != nil {
				return err
			}
		}
		b.sparseCount += uint64(len(v.Sparse.Index))
		return b.offsets.Push(encodeU64(b.sparseCount))
	default:
		return fmt.Errorf("segment: unsupported vector kind %s", b.kind)
	}
}

// Finish flushes and memory-maps every backing array, returning the
// resulting RawSegment and its Meta.
func (b *Builder) Finish() (*RawSegment, Meta, error) {
	r := &RawSegment{handle: b.handle, kind: b.kind, dims: b.dims}
	var err error
	for _, pair := range []struct {
		builder **mmaparray.Builder
		target  **mmaparray.Array
	}{
		{&b.vectors, &r.vectors}, {&b.indexes, &r.indexes}, {&b.values, &r.values},
		{&b.offsets, &r.offsets}, {&b.alphas, &r.alphas}, {&b.qoff, &r.qoff},
		{&b.sums, &r.sums}, {&b.l2norms, &r.l2norms}, {&b.payload, &r.payload},
	} {
		if *pair.builder == nil {
			continue
		}
		arr, ferr := (*pair.builder).Finish()
		if ferr != nil {
			err = ferr
			break
		}
		*pair.target = arr
	}
	if err != nil {
		r.Close()
		return nil, Meta{}, err
	}
	return r, Meta{Handle: r.handle, Kind: r.kind, Dims: r.dims, Len: r.payload.Len()}, nil
}
