// internal/milp/errors.go
package milp

import (
	"fmt"
)

// ConfigurationError reports a malformed or inconsistent catalog or
// optimizer configuration. It is never retryable.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
