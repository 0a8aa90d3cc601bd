package executor

import (
	"strings"

	"github.com/liamcoop/assetrules/graph"
)

// Render substitutes {name} placeholders. A placeholder with no value, or an
// empty one, is a *TemplateError. "{{" and "}}" are literal braces.
func Render(tmpl string, vars map[string]string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", &TemplateError{Template: tmpl}
			}
			name := strings.TrimSpace(tmpl[i+1 : i+1+end])
			v, ok := vars[name]
			if name == "" || !ok || v == "" {
				return "", &TemplateError{Template: tmpl, Placeholder: name}
			}
			b.WriteString(v)
			i += end + 1
		case c == '}':
			return "", &TemplateError{Template: tmpl}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// entityVars exposes an entity to templates: its properties by name plus
// tag, id, type, area and system, which take precedence.
func entityVars(e *graph.Entity) map[string]string {
	vars := make(map[string]string, len(e.Properties)+5)
	for k, v := range e.Properties {
		vars[k] = graph.String(v)
	}
	vars["tag"] = e.Tag
	vars["id"] = e.ID
	vars["type"] = e.Type
	vars["area"] = e.Area
	vars["system"] = e.System
	return vars
}
