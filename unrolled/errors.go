package unrolled

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

type configError string

func (err configError) Error() string { return string(err) }

// shapeError is returned when an input disagrees with the configured dimensions.
type shapeError struct {
	what       string
	want, have interface{}
}

func (err shapeError) Error() string {
	return fmt.Sprintf("%s: expected %v. Got %v", err.what, err.want, err.have)
}

// numericalError marks a quantity of the coefficient derivation that left its
// admissible domain.
type numericalError struct {
	what string
	val  float64
}

func (err numericalError) Error() string {
	return fmt.Sprintf("numerical instability: %s = %v", err.what, err.val)
}

func numerical(what string, val float64) error {
	return errors.WithStack(numericalError{what: what, val: val})
}

// IsConfig reports whether err was caused by a bad configuration, an
// unknown mode, or a layer index out of range.
func IsConfig(err error) bool {
	_, ok := errors.Cause(err).(configError)
	return ok
}

// IsShape reports whether err was caused by mismatched array dimensions.
func IsShape(err error) bool {
	_, ok := errors.Cause(err).(shapeError)
	return ok
}

// IsNumerical reports whether err was caused by a numerical instability,
// in the coefficients or in a primitive. Callers may skip the offending sample.
func IsNumerical(err error) bool {
	cause := errors.Cause(err)
	if cause == ivag.ErrNumerical {
		return true
	}
	_, ok := cause.(numericalError)
	return ok
}

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}
