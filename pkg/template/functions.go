package template

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// TxtFuncMap returns the aggregated template function map (currently
// just sprig's), the same set kubermatic templates have always rendered
// with.
func TxtFuncMap() template.FuncMap {
	return sprig.TxtFuncMap()
}

// Render parses name/text once and executes it against data, the small
// helper every one-shot templated string in this codebase goes through
// instead of repeating the parse-then-execute boilerplate.
func Render(name, text string, data interface{}) (string, error) {
	tpl, err := template.New(name).Funcs(TxtFuncMap()).Parse(text)
	if err != nil {
		return "", fmt.Errorf("template: parsing %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template: executing %s: %w", name, err)
	}
	return buf.String(), nil
}
