package session

import "fmt"

// InvalidOptionError reports a value outside a fixed enumeration or catalog.
// The mutation that produced it was not applied.
type InvalidOptionError struct {
	Field string
	Value string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}
