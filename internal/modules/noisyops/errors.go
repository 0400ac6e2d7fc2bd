package noisyops

import "fmt"

// DimensionError reports a channel matrix whose shape does not match the
// fragment it is attached to.
type DimensionError struct {
	Qubits  int
	Want    int
	GotRows int
	GotCols int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("noisyops: channel matrix is %dx%d, want %dx%d for a %d-qubit fragment",
		e.GotRows, e.GotCols, e.Want, e.Want, e.Qubits)
}
