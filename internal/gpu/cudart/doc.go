// Package cudart binds the CUDA runtime and cuBLAS through cgo. It is only
// compiled with the cuda tag and needs the CUDA toolkit headers and libraries;
// without the tag NewDefaultContext reports the runtime as unavailable.
package cudart
