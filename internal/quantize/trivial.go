package quantize

import (
	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/vector"
)

// trivial is the identity quantizer (spec.md §4.4): it stores no codes of
// its own and answers distance queries by reading the original vector
// through the permutation, exactly as TrivialQuantization does in the
// reference engine (algorithms/quantization/trivial.rs) — the raw segment
// plus a permutation vector are the whole of its state.
type trivial struct {
	raw         RawAccessor
	permutation []uint32
	dk          distance.Kind
}

func newTrivial(dk distance.Kind, raw RawAccessor, permutation []uint32) *trivial {
	return &trivial{raw: raw, permutation: permutation, dk: dk}
}

func (t *trivial) Kind() Kind { return KindTrivial }

func (t *trivial) codes(placement uint32) vector.Vector {
	return t.raw.Vector(t.permutation[placement])
}

func (t *trivial) Distance(query vector.Vector, rhs uint32) (float32, error) {
	return distance.Distance(t.dk, query, t.codes(rhs))
}

func (t *trivial) Distance2(lhs, rhs uint32) (float32, error) {
	return distance.Distance(t.dk, t.codes(lhs), t.codes(rhs))
}
