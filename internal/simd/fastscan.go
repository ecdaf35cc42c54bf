package simd

// FastScan evaluates 64 product-quantization codes against a per-sub-quantizer
// lookup table in one pass, matching the packed 2-bit codes layout described
// in spec.md §4.1 (and crates/quantization/src/fast_scan/b2.rs in the
// reference engine). codes is width*16 bytes: 64 vectors' worth of `width`
// 2-bit sub-codes, packed so that codes[g*width*16 : (g+1)*width*16] holds
// one group of 64 vectors with one 2-bit slot per lane across 16 vectors per
// byte-lane (see unpackGroup). table is width*4 float32 entries: for
// sub-quantizer s and 2-bit code c, table[s*4+c] is the partial distance
// contribution. The result is the width-wise sum of table lookups for each
// of the 64 vectors, expressed as fixed-point uint16 (the caller scales back
// to float32; callers that need exact float sums should use
// FastScanFloat instead).
func FastScan(width int, codes []byte, table []float32) [64]uint16 {
	sums := FastScanFloat(width, codes, table)
	var out [64]uint16
	for i, s := range sums {
		if s < 0 {
			s = 0
		}
		if s > 65535 {
			s = 65535
		}
		out[i] = uint16(s)
	}
	return out
}

// FastScanFloat is FastScan without the fixed-point narrowing, used
// internally and by IVF+PQ search which wants full float32 precision.
func FastScanFloat(width int, codes []byte, table []float32) [64]float32 {
	var sums [64]float32
	for s := 0; s < width; s++ {
		lane := codes[s*16 : s*16+16]
		tbl := table[s*4 : s*4+4]
		for byteIdx, b := range lane {
			// Each byte packs four 2-bit codes, for vectors
			// byteIdx, byteIdx+16, byteIdx+32, byteIdx+48 — this is the
			// packing permutation referenced in spec.md §4.1: a single
			// 128-bit load picks up one 2-bit slot per lane across 16
			// vectors, so the 4 codes nibble-packed into byte `byteIdx`
			// belong to vectors spaced 16 apart rather than adjacent.
			c0 := b & 0x3
			c1 := (b >> 2) & 0x3
			c2 := (b >> 4) & 0x3
			c3 := (b >> 6) & 0x3
			sums[byteIdx] += tbl[c0]
			sums[byteIdx+16] += tbl[c1]
			sums[byteIdx+32] += tbl[c2]
			sums[byteIdx+48] += tbl[c3]
		}
	}
	return sums
}

// PackFastScanCodes encodes 64 vectors' 2-bit sub-quantizer codes (codes[v][s]
// in [0,4), v in [0,64), s in [0,width)) into the packed layout FastScan
// expects. It is the encoder side that must agree with FastScan's decoder.
func PackFastScanCodes(width int, codes [][]byte) []byte {
	packed := make([]byte, width*16)
	for s := 0; s < width; s++ {
		lane := packed[s*16 : s*16+16]
		for byteIdx := 0; byteIdx < 16; byteIdx++ {
			c0 := codes[byteIdx][s] & 0x3
			c1 := codes[byteIdx+16][s] & 0x3
			c2 := codes[byteIdx+32][s] & 0x3
			c3 := codes[byteIdx+48][s] & 0x3
			lane[byteIdx] = c0 | c1<<2 | c2<<4 | c3<<6
		}
	}
	return packed
}
