// internal/export/errors.go
package export

import (
	"fmt"
)

// ExportError reports that a model cannot be written faithfully in the
// requested encoding.
type ExportError struct {
	Format Format
	Reason string
}

func (e *ExportError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("export error: %s", e.Reason)
	}
	return fmt.Sprintf("export error (%s): %s", e.Format, e.Reason)
}
