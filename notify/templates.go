/*
templates.go - Template catalogue and renderer

PURPOSE:
  Loads named subject/body templates from YAML and renders them against
  a personalisation map. The default catalogue is embedded; a file can
  replace it at startup (-templates flag).

FORMAT:
  templates:
    <name>:
      subject: "..."
      body: |
        ...

  Templates are Go text/template with missingkey=error, so an unresolved
  variable is a TemplateRenderError carrying line, column and field.
*/
package notify

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultCatalogue []byte

type templateSource struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type catalogue struct {
	Templates map[string]templateSource `yaml:"templates"`
}

type compiledTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Registry is an immutable set of compiled templates; safe for concurrent use.
type Registry struct {
	templates map[string]compiledTemplate
}

// DefaultRegistry compiles the embedded catalogue.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry(bytes.NewReader(defaultCatalogue))
}

// LoadRegistryFile compiles the catalogue at path.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template catalogue: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

// LoadRegistry parses and compiles a YAML catalogue.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var cat catalogue
	if err := yaml.NewDecoder(r).Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode template catalogue: %w", err)
	}
	if len(cat.Templates) == 0 {
		return nil, errors.New("template catalogue is empty")
	}

	reg := &Registry{templates: make(map[string]compiledTemplate, len(cat.Templates))}
	for name, src := range cat.Templates {
		if strings.TrimSpace(src.Subject) == "" || strings.TrimSpace(src.Body) == "" {
			return nil, fmt.Errorf("template %s: subject and body are required", name)
		}
		subject, err := parse(name, "subject", src.Subject)
		if err != nil {
			return nil, err
		}
		body, err := parse(name, "body", src.Body)
		if err != nil {
			return nil, err
		}
		reg.templates[name] = compiledTemplate{subject: subject, body: body}
	}
	return reg, nil
}

func parse(name, part, src string) (*template.Template, error) {
	t, err := template.New(name + "/" + part).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %s %s: %w", name, part, err)
	}
	return t, nil
}

// Names lists the templates in the registry, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render implements Renderer.
func (r *Registry) Render(name string, p Personalisation) (Message, error) {
	t, ok := r.templates[name]
	if !ok {
		return Message{}, &TemplateRenderError{Template: name, Err: ErrTemplateNotFound}
	}

	subject, err := execute(name, t.subject, p)
	if err != nil {
		return Message{}, err
	}
	body, err := execute(name, t.body, p)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: strings.TrimSpace(subject), Body: body}, nil
}

func execute(name string, t *template.Template, p Personalisation) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		return "", newRenderError(name, err)
	}
	return buf.String(), nil
}

// text/template reports e.g.
//
//	template: decision-published/body:4:11: executing "decision-published/body" at <.decision_outcome>: map has no entry for key "decision_outcome"
var execErrorPattern = regexp.MustCompile(`^template: [^:]+:(\d+):(\d+): executing "[^"]*" at <\.?([^>]*)>`)

func newRenderError(name string, err error) *TemplateRenderError {
	rerr := &TemplateRenderError{Template: name, Err: err}
	if m := execErrorPattern.FindStringSubmatch(err.Error()); m != nil {
		rerr.Line, _ = strconv.Atoi(m[1])
		rerr.Column, _ = strconv.Atoi(m[2])
		rerr.Field = m[3]
	}
	return rerr
}
