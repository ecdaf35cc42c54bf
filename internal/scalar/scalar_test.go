package scalar

import (
	"math"
	"testing"
)

func TestF32OrderingNaNLast(t *testing.T) {
	nan := F32(math.NaN())
	one := F32(1.0)
	if !one.Less(nan) {
		t.Fatalf("expected 1.0 < NaN")
	}
	if nan.Less(one) {
		t.Fatalf("expected NaN to not be less than 1.0")
	}
}

func TestF32OrderingNegZero(t *testing.T) {
	negZero := F32(math.Copysign(0, -1))
	posZero := F32(0)
	if !negZero.Less(posZero) {
		t.Fatalf("expected -0 < +0")
	}
	if posZero.Less(negZero) {
		t.Fatalf("expected +0 to not be less than -0")
	}
}

func TestF32OrderingTotal(t *testing.T) {
	neg := F32(-5)
	pos := F32(5)
	if !neg.Less(pos) {
		t.Fatalf("expected -5 < 5")
	}
}

func TestF16RoundTrip(t *testing.T) {
	cases := []float32{0, 1, -1, 0.5, 3.14, -3.14, 65504, -65504}
	for _, c := range cases {
		bits := F16(c).ToBits()
		got := float32(F16FromBits(bits))
		if math.Abs(float64(got-c)) > 0.01*math.Abs(float64(c))+1e-3 {
			t.Errorf("F16 round trip for %v: got %v", c, got)
		}
	}
}
