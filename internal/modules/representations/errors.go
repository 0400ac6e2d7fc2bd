package representations

import "fmt"

// RepresentationNotFoundError is returned when an ideal fragment lies
// outside the span of the supplied noisy basis, so no quasi-probability
// decomposition exists.
type RepresentationNotFoundError struct {
	Circuit string
	Reason  error
}

func (e *RepresentationNotFoundError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("representations: no decomposition of %s in the given basis: %v", e.Circuit, e.Reason)
	}
	return fmt.Sprintf("representations: no decomposition of %s in the given basis", e.Circuit)
}

func (e *RepresentationNotFoundError) Unwrap() error {
	return e.Reason
}

// EmptyRepresentationError is returned when sampling is attempted from a
// representation that has no terms with non-zero weight.
type EmptyRepresentationError struct {
	Ideal string
}

func (e *EmptyRepresentationError) Error() string {
	return fmt.Sprintf("representations: representation of %s has no sampleable terms", e.Ideal)
}
