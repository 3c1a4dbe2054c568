// internal/export/json.go
package export

import (
	"bytes"
	"encoding/json"

	"bentokaze/internal/milp"
)

type jsonModel struct {
	Name        string           `json:"name"`
	Sense       string           `json:"sense"`
	Variables   []jsonVariable   `json:"variables"`
	Objective   []jsonTerm       `json:"objective"`
	Constraints []jsonConstraint `json:"constraints"`
}

type jsonVariable struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Lower    float64  `json:"lower"`
	Upper    *float64 `json:"upper,omitempty"`
	Item     string   `json:"item,omitempty"`
	Category string   `json:"category,omitempty"`
}

type jsonTerm struct {
	Var  string  `json:"var"`
	Coef float64 `json:"coef"`
}

type jsonConstraint struct {
	Name  string     `json:"name"`
	Role  string     `json:"role"`
	Sense string     `json:"sense"`
	RHS   float64    `json:"rhs"`
	Terms []jsonTerm `json:"terms"`
}

func (e *Encoding) writeJSON(w *bytes.Buffer) error {
	doc := jsonModel{
		Name:  e.model.Name(),
		Sense: "minimize",
	}

	for _, v := range e.model.Variables() {
		jv := jsonVariable{Name: e.columns[v.Index()], Lower: v.Lower()}
		switch v := v.(type) {
		case *milp.Continuous:
			jv.Kind = "continuous"
			jv.Item = v.Item()
		case *milp.Binary:
			upper := v.Upper()
			jv.Kind = "binary"
			jv.Upper = &upper
			jv.Category = v.Category()
		}
		doc.Variables = append(doc.Variables, jv)
	}

	doc.Objective = e.jsonTerms(e.model.Objective())
	for i, c := range e.model.Constraints() {
		doc.Constraints = append(doc.Constraints, jsonConstraint{
			Name:  e.rows[i],
			Role:  c.Role.String(),
			Sense: c.Sense.String(),
			RHS:   c.RHS,
			Terms: e.jsonTerms(c.Terms),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (e *Encoding) jsonTerms(terms []milp.Term) []jsonTerm {
	out := make([]jsonTerm, 0, len(terms))
	for _, t := range terms {
		out = append(out, jsonTerm{Var: e.columns[t.Var.Index()], Coef: t.Coef})
	}
	return out
}
