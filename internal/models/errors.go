package models

import "fmt"

// ValidationError indica um valor de configuração rejeitado. Nada é aplicado
// parcialmente quando este erro é retornado.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("campo %s inválido (%v): %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("campo %s inválido: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
