package estimation

import (
	"fmt"

	"github.com/aristath/quasar/internal/modules/circuits"
)

// ConfigurationError reports invalid estimation options. It is always
// returned before any executor call happens.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "estimation: invalid configuration: " + e.Reason
}

// ExecutionError wraps an executor failure together with the realized
// circuit that triggered it.
type ExecutionError struct {
	Circuit circuits.Circuit
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("estimation: executing %s: %v", e.Circuit, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
