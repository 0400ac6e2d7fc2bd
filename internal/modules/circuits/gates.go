package circuits

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Gate names accepted by the registry.
const (
	GateI    = "I"
	GateX    = "X"
	GateY    = "Y"
	GateZ    = "Z"
	GateH    = "H"
	GateS    = "S"
	GateT    = "T"
	GateRX   = "RX"
	GateRY   = "RY"
	GateRZ   = "RZ"
	GateCNOT = "CNOT"
	GateCZ   = "CZ"
	GateSWAP = "SWAP"
)

type gateSpec struct {
	qubits int
	params int
	matrix func(params []float64) *mat.CDense
}

var gateSpecs = map[string]gateSpec{
	GateI: {1, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(2, 2, []complex128{1, 0, 0, 1})
	}},
	GateX: {1, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(2, 2, []complex128{0, 1, 1, 0})
	}},
	GateY: {1, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(2, 2, []complex128{0, complex(0, -1), complex(0, 1), 0})
	}},
	GateZ: {1, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(2, 2, []complex128{1, 0, 0, -1})
	}},
	GateH: {1, 0, func([]float64) *mat.CDense {
		h := complex(1/math.Sqrt2, 0)
		return mat.NewCDense(2, 2, []complex128{h, h, h, -h})
	}},
	GateS: {1, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(2, 2, []complex128{1, 0, 0, complex(0, 1)})
	}},
	GateT: {1, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(2, 2, []complex128{1, 0, 0, cmplx.Exp(complex(0, math.Pi/4))})
	}},
	GateRX: {1, 1, func(p []float64) *mat.CDense {
		c := complex(math.Cos(p[0]/2), 0)
		s := complex(0, -math.Sin(p[0]/2))
		return mat.NewCDense(2, 2, []complex128{c, s, s, c})
	}},
	GateRY: {1, 1, func(p []float64) *mat.CDense {
		c := complex(math.Cos(p[0]/2), 0)
		s := complex(math.Sin(p[0]/2), 0)
		return mat.NewCDense(2, 2, []complex128{c, -s, s, c})
	}},
	GateRZ: {1, 1, func(p []float64) *mat.CDense {
		return mat.NewCDense(2, 2, []complex128{
			cmplx.Exp(complex(0, -p[0]/2)), 0,
			0, cmplx.Exp(complex(0, p[0]/2)),
		})
	}},
	GateCNOT: {2, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(4, 4, []complex128{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 0, 1,
			0, 0, 1, 0,
		})
	}},
	GateCZ: {2, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(4, 4, []complex128{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, -1,
		})
	}},
	GateSWAP: {2, 0, func([]float64) *mat.CDense {
		return mat.NewCDense(4, 4, []complex128{
			1, 0, 0, 0,
			0, 0, 1, 0,
			0, 1, 0, 0,
			0, 0, 0, 1,
		})
	}},
}

// Gates returns the names of all registered gates.
func Gates() []string {
	names := make([]string, 0, len(gateSpecs))
	for name := range gateSpecs {
		names = append(names, name)
	}
	return names
}

// I returns an identity gate on the given qubit.
func I(qubit int) Operation { return Operation{Gate: GateI, Qubits: []int{qubit}} }

// X returns a Pauli-X gate on the given qubit.
func X(qubit int) Operation { return Operation{Gate: GateX, Qubits: []int{qubit}} }

// Y returns a Pauli-Y gate on the given qubit.
func Y(qubit int) Operation { return Operation{Gate: GateY, Qubits: []int{qubit}} }

// Z returns a Pauli-Z gate on the given qubit.
func Z(qubit int) Operation { return Operation{Gate: GateZ, Qubits: []int{qubit}} }

// H returns a Hadamard gate on the given qubit.
func H(qubit int) Operation { return Operation{Gate: GateH, Qubits: []int{qubit}} }

// S returns a phase gate on the given qubit.
func S(qubit int) Operation { return Operation{Gate: GateS, Qubits: []int{qubit}} }

// T returns a T gate on the given qubit.
func T(qubit int) Operation { return Operation{Gate: GateT, Qubits: []int{qubit}} }

// RX returns an X rotation by theta on the given qubit.
func RX(theta float64, qubit int) Operation {
	return Operation{Gate: GateRX, Qubits: []int{qubit}, Params: []float64{theta}}
}

// RY returns a Y rotation by theta on the given qubit.
func RY(theta float64, qubit int) Operation {
	return Operation{Gate: GateRY, Qubits: []int{qubit}, Params: []float64{theta}}
}

// RZ returns a Z rotation by theta on the given qubit.
func RZ(theta float64, qubit int) Operation {
	return Operation{Gate: GateRZ, Qubits: []int{qubit}, Params: []float64{theta}}
}

// CNOT returns a controlled-X gate.
func CNOT(control, target int) Operation {
	return Operation{Gate: GateCNOT, Qubits: []int{control, target}}
}

// CZ returns a controlled-Z gate.
func CZ(control, target int) Operation {
	return Operation{Gate: GateCZ, Qubits: []int{control, target}}
}

// SWAP returns a swap gate.
func SWAP(a, b int) Operation {
	return Operation{Gate: GateSWAP, Qubits: []int{a, b}}
}

// PauliFor maps a Pauli letter to its gate constructor. Used when turning
// correction labels into concrete operations.
func PauliFor(letter byte, qubit int) (Operation, bool) {
	switch letter {
	case 'I':
		return I(qubit), true
	case 'X':
		return X(qubit), true
	case 'Y':
		return Y(qubit), true
	case 'Z':
		return Z(qubit), true
	}
	return Operation{}, false
}
