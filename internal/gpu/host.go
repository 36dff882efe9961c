package gpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/stat/distuv"
)

// NewRandomMatrix returns an n×n host matrix of standard normal samples.
func NewRandomMatrix(n int) blas32.General {
	data := make([]float32, n*n)
	for i := range data {
		data[i] = float32(distuv.UnitNormal.Rand())
	}
	return blas32.General{Rows: n, Cols: n, Stride: n, Data: data}
}

// ReferenceEntry computes entry (i, j) of a × b on the host. The second
// return value is Σ|a[i,k]·b[k,j]|, the scale against which rounding error in
// a device result should be judged.
func ReferenceEntry(a, b blas32.General, i, j int) (float32, float64) {
	row := blas32.Vector{N: a.Cols, Inc: 1, Data: a.Data[i*a.Stride:]}
	col := blas32.Vector{N: b.Rows, Inc: b.Stride, Data: b.Data[j:]}

	var scale float64
	for k := 0; k < a.Cols; k++ {
		p := float64(a.Data[i*a.Stride+k]) * float64(b.Data[k*b.Stride+j])
		if p < 0 {
			p = -p
		}
		scale += p
	}
	return blas32.Dot(row, col), scale
}

// hostMul computes a × b with gonum's float32 GEMM.
func hostMul(a, b blas32.General) (blas32.General, error) {
	if a.Cols != b.Rows {
		return blas32.General{}, fmt.Errorf("dimension mismatch: %dx%d × %dx%d", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	c := blas32.General{Rows: a.Rows, Cols: b.Cols, Stride: b.Cols, Data: make([]float32, a.Rows*b.Cols)}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)
	return c, nil
}
