package credcheck

import "errors"

// ErrInvalidInput marks structurally invalid verification requests
var ErrInvalidInput = errors.New("invalid request")

// InputError describes what is wrong with a request
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return "Invalid request: " + e.Msg
}

// Unwrap lets errors.Is match ErrInvalidInput
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(msg string) error {
	return &InputError{Msg: msg}
}
