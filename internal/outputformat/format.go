// Package outputformat implements the output-format rendering policy the
// secret synchroniser applies to a spec's resolved secret fields before
// writing the consuming namespace's Secret.
package outputformat

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

// secretMaxKeyLength is Kubernetes' Secret data key length limit (a DNS
// subdomain name).
const secretMaxKeyLength = 253

// Format is a spec's declared output_format block. The zero value is
// equivalent to {Provider: "generic-secret"}.
type Format struct {
	Provider string
	Data     string
}

// Render applies f's policy to vars (the resolved secret fields) and
// returns the string->string mapping that becomes the target Secret's data.
func (f Format) Render(vars map[string]string) (map[string]string, error) {
	provider := f.Provider
	if provider == "" {
		provider = "generic-secret"
	}

	switch provider {
	case "generic-secret":
		return renderGenericSecret(f.Data, vars)
	default:
		return nil, fmt.Errorf("unknown output format provider %q", provider)
	}
}

func renderGenericSecret(data string, vars map[string]string) (map[string]string, error) {
	if data == "" {
		return copyVars(vars), nil
	}

	// Protect the caller's map against a template that mutates what it is
	// given: render against a copy.
	tmplVars := copyVars(vars)

	tmpl, err := template.New("output_format").Funcs(sprig.TxtFuncMap()).Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing output_format.data template: %w", err)
	}

	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, tmplVars); err != nil {
		return nil, fmt.Errorf("rendering output_format.data template: %w", err)
	}

	var parsed map[string]string
	if err := yaml.Unmarshal(rendered.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("output_format.data did not render to a string mapping: %w", err)
	}

	if err := validateSecretData(parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func validateSecretData(data map[string]string) error {
	for k, v := range data {
		if len(k) > secretMaxKeyLength {
			return fmt.Errorf("secret key %q is longer than %d chars", k, secretMaxKeyLength)
		}
		_ = v // values are already string-typed by the map[string]string decode
	}
	return nil
}

func copyVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
