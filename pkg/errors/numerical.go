package errors

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
)

// NumericalInstabilityError reports NaN or Inf where a finite value is required,
// such as a split threshold or a leaf value in an imported model.
type NumericalInstabilityError struct {
	Operation string
	Index     int // position of the first offending value
	Values    []float64
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("fil: non-finite value in %s at index %d. Values: [%s]", e.Operation, e.Index, valStr)
}

// NewNumericalInstabilityError creates a NumericalInstabilityError with a stack trace.
func NewNumericalInstabilityError(operation string, index int, values []float64) error {
	return errors.WithStack(&NumericalInstabilityError{Operation: operation, Index: index, Values: values})
}

// CheckFinite returns an error if any value is NaN or Inf.
func CheckFinite(operation string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewNumericalInstabilityError(operation, i, values)
		}
	}
	return nil
}

// CheckScalar checks a single value.
func CheckScalar(operation string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NewNumericalInstabilityError(operation, 0, []float64{value})
	}
	return nil
}

// StabilizeExp computes exp with the input clipped to avoid overflow to Inf.
func StabilizeExp(value float64) float64 {
	const maxExp = 700.0
	if value > maxExp {
		return math.Exp(maxExp)
	}
	if value < -maxExp {
		return 0
	}
	return math.Exp(value)
}
