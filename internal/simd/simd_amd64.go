//go:build amd64

package simd

import "golang.org/x/sys/cpu"

var (
	hasAVX512 = cpu.X86.HasAVX512F
	hasAVX2   = cpu.X86.HasAVX2 && cpu.X86.HasFMA
)

// dispatch is initialized once at process start and never reassigned
// afterwards — the one-shot atomic the design notes call for is simply
// "write it once before any goroutine can read it", satisfied here by
// package-level var initialization running before main.
var dispatch = selectKernels()

func selectKernels() kernelSet {
	switch {
	case hasAVX512:
		return kernelSet{
			sumOfX:    wideSumOfX16,
			sumOfAbsX: scalarSumOfAbsX,
			sumOfX2:   wideSumOfX2_16,
			minMaxOfX: scalarMinMaxOfX,
			sumOfXY:   wideSumOfXY16,
			sumOfD2:   wideSumOfD2_16,
			name:      "AVX-512 (amd64, 16-wide)",
		}
	case hasAVX2:
		return kernelSet{
			sumOfX:    wideSumOfX8,
			sumOfAbsX: scalarSumOfAbsX,
			sumOfX2:   wideSumOfX2_8,
			minMaxOfX: scalarMinMaxOfX,
			sumOfXY:   scalarSumOfXY,
			sumOfD2:   scalarSumOfD2,
			name:      "AVX2 + FMA (amd64, 8-wide)",
		}
	default:
		g := genericKernels
		g.name = "SSE (amd64, 4-wide)"
		return g
	}
}
