// internal/export/export.go
package export

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bentokaze/internal/milp"
)

type Format string

const (
	FormatLP      Format = "lp"
	FormatMPS     Format = "mps"
	FormatFreeMPS Format = "mps-free"
	FormatJSON    Format = "json"
)

// mpsNameLimit is the column and row name width of fixed-format MPS.
const mpsNameLimit = 8

const objectiveRow = "cost"

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatLP, FormatMPS, FormatFreeMPS, FormatJSON:
		return f, nil
	}
	return "", &ExportError{Format: Format(s), Reason: "unsupported format"}
}

func ParseFormats(names []string) ([]Format, error) {
	formats := make([]Format, 0, len(names))
	for _, name := range names {
		f, err := ParseFormat(name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}

// FileName returns the file name used for base in this format.
func (f Format) FileName(base string) string {
	switch f {
	case FormatFreeMPS:
		return base + "-free.mps"
	default:
		return base + "." + string(f)
	}
}

// Encoding is one serialization of a model together with the exported name
// of every variable and row.
type Encoding struct {
	format   Format
	model    *milp.Model
	columns  []string
	rows     []string
	byColumn map[string]milp.Variable
	text     []byte
}

// Encode serializes m. The same model always yields byte-identical output.
func Encode(m *milp.Model, format Format) (*Encoding, error) {
	f, err := ParseFormat(string(format))
	if err != nil {
		return nil, err
	}
	if m == nil || m.NumVariables() == 0 {
		return nil, &ExportError{Format: f, Reason: "model was not built"}
	}
	if err := checkFinite(m); err != nil {
		err.Format = f
		return nil, err
	}

	e := &Encoding{format: f, model: m}
	if err := e.assignNames(); err != nil {
		var exportErr *ExportError
		if errors.As(err, &exportErr) {
			exportErr.Format = f
		}
		return nil, err
	}

	var buf bytes.Buffer
	switch f {
	case FormatLP:
		e.writeLP(&buf)
	case FormatMPS:
		e.writeMPS(&buf, false)
	case FormatFreeMPS:
		e.writeMPS(&buf, true)
	case FormatJSON:
		if err := e.writeJSON(&buf); err != nil {
			return nil, &ExportError{Format: f, Reason: err.Error()}
		}
	}
	e.text = buf.Bytes()
	return e, nil
}

func (e *Encoding) Format() Format { return e.format }

func (e *Encoding) Bytes() []byte {
	return append([]byte(nil), e.text...)
}

func (e *Encoding) String() string {
	return string(e.text)
}

// Column returns the exported name of v.
func (e *Encoding) Column(v milp.Variable) string {
	return e.columns[v.Index()]
}

// Row returns the exported name of constraint i.
func (e *Encoding) Row(i int) string {
	return e.rows[i]
}

// Lookup maps an exported column name back to its variable.
func (e *Encoding) Lookup(column string) (milp.Variable, bool) {
	v, ok := e.byColumn[column]
	return v, ok
}

func (e *Encoding) assignNames() error {
	registry := func() *nameRegistry {
		switch e.format {
		case FormatMPS:
			return newNameRegistry(mpsNameLimit)
		case FormatLP:
			return newLPNameRegistry()
		}
		return newNameRegistry(0)
	}

	columns := registry()
	vars := e.model.Variables()
	e.columns = make([]string, len(vars))
	e.byColumn = make(map[string]milp.Variable, len(vars))
	for _, v := range vars {
		name, err := canonicalize(v.Name(), columns)
		if err != nil {
			return err
		}
		e.columns[v.Index()] = name
		e.byColumn[name] = v
	}

	rows := registry()
	rows.register(objectiveRow)
	constraints := e.model.Constraints()
	e.rows = make([]string, len(constraints))
	for i, c := range constraints {
		name, err := canonicalize(c.Name, rows)
		if err != nil {
			return err
		}
		e.rows[i] = name
	}
	return nil
}

func checkFinite(m *milp.Model) *ExportError {
	bad := func(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }
	for _, t := range m.Objective() {
		if bad(t.Coef) {
			return &ExportError{Reason: fmt.Sprintf("objective coefficient of %s is not finite", t.Var.Name())}
		}
	}
	for _, c := range m.Constraints() {
		if bad(c.RHS) {
			return &ExportError{Reason: fmt.Sprintf("right-hand side of %s is not finite", c.Name)}
		}
		for _, t := range c.Terms {
			if bad(t.Coef) {
				return &ExportError{Reason: fmt.Sprintf("coefficient of %s in %s is not finite", t.Var.Name(), c.Name)}
			}
		}
	}
	return nil
}

// formatNumber renders the shortest decimal that parses back to v.
func formatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteFiles encodes m once per format into dir and returns the written paths.
func WriteFiles(m *milp.Model, dir, base string, formats []Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	var paths []string
	for _, f := range formats {
		enc, err := Encode(m, f)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, enc.Format().FileName(base))
		if err := os.WriteFile(path, enc.text, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
