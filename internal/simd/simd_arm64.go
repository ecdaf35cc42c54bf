//go:build arm64

package simd

import "golang.org/x/sys/cpu"

var hasSVE = cpu.ARM64.HasSVE

var dispatch = selectKernels()

func selectKernels() kernelSet {
	if hasSVE {
		return kernelSet{
			sumOfX:    wideSumOfX16,
			sumOfAbsX: scalarSumOfAbsX,
			sumOfX2:   wideSumOfX2_16,
			minMaxOfX: scalarMinMaxOfX,
			sumOfXY:   wideSumOfXY16,
			sumOfD2:   wideSumOfD2_16,
			name:      "SVE (arm64, 16-wide)",
		}
	}
	return kernelSet{
		sumOfX:    wideSumOfX8,
		sumOfAbsX: scalarSumOfAbsX,
		sumOfX2:   wideSumOfX2_8,
		minMaxOfX: scalarMinMaxOfX,
		sumOfXY:   scalarSumOfXY,
		sumOfD2:   scalarSumOfD2,
		name:      "NEON (arm64, 8-wide)",
	}
}
