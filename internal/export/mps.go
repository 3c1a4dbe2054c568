// internal/export/mps.go
package export

import (
	"bytes"
	"fmt"

	"bentokaze/internal/milp"
)

const (
	markerStart = "    MARKER                 'MARKER'                 'INTORG'\n"
	markerEnd   = "    MARKER                 'MARKER'                 'INTEND'\n"
)

type mpsEntry struct {
	row  string
	coef float64
}

func rowType(s milp.Sense) string {
	switch s {
	case milp.LessEqual:
		return "L"
	case milp.GreaterEqual:
		return "G"
	default:
		return "E"
	}
}

func (e *Encoding) writeMPS(w *bytes.Buffer, free bool) {
	name := sanitize(e.model.Name())
	if !free && len(name) > mpsNameLimit {
		name = name[:mpsNameLimit]
	}
	w.WriteString("*SENSE:Minimize\n")
	fmt.Fprintf(w, "NAME          %s\n", name)

	constraints := e.model.Constraints()
	w.WriteString("ROWS\n")
	fmt.Fprintf(w, " N  %s\n", objectiveRow)
	for i, c := range constraints {
		fmt.Fprintf(w, " %s  %s\n", rowType(c.Sense), e.rows[i])
	}

	// transpose the row-wise model into contiguous column blocks
	vars := e.model.Variables()
	entries := make([][]mpsEntry, len(vars))
	for _, t := range e.model.Objective() {
		entries[t.Var.Index()] = append(entries[t.Var.Index()], mpsEntry{row: objectiveRow, coef: t.Coef})
	}
	for i, c := range constraints {
		for _, t := range c.Terms {
			if t.Coef == 0 {
				continue
			}
			entries[t.Var.Index()] = append(entries[t.Var.Index()], mpsEntry{row: e.rows[i], coef: t.Coef})
		}
	}

	w.WriteString("COLUMNS\n")
	inMarker := false
	for _, v := range vars {
		_, binary := v.(*milp.Binary)
		if binary && !inMarker {
			w.WriteString(markerStart)
			inMarker = true
		} else if !binary && inMarker {
			w.WriteString(markerEnd)
			inMarker = false
		}

		column := e.columns[v.Index()]
		if len(entries[v.Index()]) == 0 {
			// keep the column declared even without coefficients
			writeField(w, column, objectiveRow, 0)
			continue
		}
		for _, entry := range entries[v.Index()] {
			writeField(w, column, entry.row, entry.coef)
		}
	}
	if inMarker {
		w.WriteString(markerEnd)
	}

	w.WriteString("RHS\n")
	for i, c := range constraints {
		if c.RHS != 0 {
			writeField(w, "RHS", e.rows[i], c.RHS)
		}
	}

	if binaries := e.model.Binaries(); len(binaries) > 0 {
		w.WriteString("BOUNDS\n")
		for _, v := range binaries {
			fmt.Fprintf(w, " BV BND       %s\n", e.columns[v.Index()])
		}
	}

	w.WriteString("ENDATA\n")
}

func writeField(w *bytes.Buffer, first, row string, value float64) {
	fmt.Fprintf(w, "    %-8s  %-8s  %s\n", first, row, formatNumber(value))
}
