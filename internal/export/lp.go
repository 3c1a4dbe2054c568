// internal/export/lp.go
package export

import (
	"bytes"
	"fmt"

	"bentokaze/internal/milp"
)

// lpLineLimit keeps rows well below the 510 character limit of LP readers.
const lpLineLimit = 255

func (e *Encoding) writeLP(w *bytes.Buffer) {
	fmt.Fprintf(w, "\\* %s *\\\n", e.model.Name())

	w.WriteString("Minimize\n")
	e.writeLPRow(w, objectiveRow, e.model.Objective(), "")

	w.WriteString("Subject To\n")
	for i, c := range e.model.Constraints() {
		e.writeLPRow(w, e.rows[i], c.Terms, " "+c.Sense.String()+" "+formatNumber(c.RHS))
	}

	w.WriteString("Bounds\n")
	for _, v := range e.model.MassVariables() {
		fmt.Fprintf(w, " %s >= 0\n", e.columns[v.Index()])
	}

	if binaries := e.model.Binaries(); len(binaries) > 0 {
		w.WriteString("Binaries\n")
		for _, v := range binaries {
			fmt.Fprintf(w, " %s\n", e.columns[v.Index()])
		}
	}

	w.WriteString("End\n")
}

func (e *Encoding) writeLPRow(w *bytes.Buffer, name string, terms []milp.Term, tail string) {
	line := " " + name + ":"
	if len(terms) == 0 {
		// an empty expression still has to name a variable
		first := e.model.Variables()[0]
		terms = []milp.Term{{Var: first, Coef: 0}}
	}

	for i, t := range terms {
		var token string
		switch {
		case i == 0 && t.Coef < 0:
			token = " -" + formatNumber(-t.Coef)
		case i == 0:
			token = " " + formatNumber(t.Coef)
		case t.Coef < 0:
			token = " - " + formatNumber(-t.Coef)
		default:
			token = " + " + formatNumber(t.Coef)
		}
		token += " " + e.columns[t.Var.Index()]

		if len(line)+len(token) > lpLineLimit {
			w.WriteString(line + "\n")
			line = ""
		}
		line += token
	}

	if len(line)+len(tail) > lpLineLimit {
		w.WriteString(line + "\n")
		line = ""
	}
	w.WriteString(line + tail + "\n")
}
