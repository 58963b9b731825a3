// Package render fills recipient placeholders into campaign templates.
package render

import (
	"strings"

	"outreach-relay-go/internal/model"
)

// Placeholders lists every variable a template may reference
var Placeholders = []string{"{first_name}", "{last_name}", "{full_name}", "{email}", "{company}"}

// Renderer substitutes recipient attributes into a template
type Renderer interface {
	Render(template string, r *model.Recipient) string
}

// Simple is the default Renderer. Missing attributes render as empty strings.
type Simple struct{}

// NewSimple creates the default renderer
func NewSimple() *Simple {
	return &Simple{}
}

// Vars returns the placeholder values for a recipient
func Vars(r *model.Recipient) map[string]string {
	if r == nil {
		r = &model.Recipient{}
	}
	return map[string]string{
		"{first_name}": r.FirstName,
		"{last_name}":  r.LastName,
		"{full_name}":  r.FullName(),
		"{email}":      r.Email,
		"{company}":    r.Company,
	}
}

// Render implements Renderer
func (Simple) Render(template string, r *model.Recipient) string {
	if !strings.Contains(template, "{") {
		return template
	}
	vars := Vars(r)
	pairs := make([]string, 0, len(Placeholders)*2)
	for _, p := range Placeholders {
		pairs = append(pairs, p, vars[p])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
