package spell

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// RenderContext is the root object exposed to a spell template: keys become
// top-level fields, so {{.taskTitle}} reads ctx["taskTitle"].
type RenderContext map[string]interface{}

// Renderer substitutes variables into spell templates.
type Renderer struct {
	options RenderOptions
}

// RenderOptions configures how a Renderer treats template variables that
// aren't present in the RenderContext.
type RenderOptions struct {
	// MissingKeyError makes a missing key a render error when true (the
	// default); when false a missing key renders as an empty string.
	MissingKeyError bool
}

// DefaultRenderOptions returns the strict (error-on-missing-key) options.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{MissingKeyError: true}
}

// NewRenderer creates a renderer using DefaultRenderOptions.
func NewRenderer() *Renderer {
	return &Renderer{options: DefaultRenderOptions()}
}

// NewRendererWithOptions creates a renderer with caller-supplied options.
func NewRendererWithOptions(opts RenderOptions) *Renderer {
	return &Renderer{options: opts}
}

// Render renders spell's content with ctx as the root object.
func (r *Renderer) Render(spell *Spell, ctx RenderContext) (string, error) {
	if spell == nil {
		return "", fmt.Errorf("spell cannot be nil")
	}
	return r.RenderString(spell.Name, spell.Content, ctx)
}

// RenderString renders an arbitrary template string. name is used only for
// error messages and template identification.
func (r *Renderer) RenderString(name, content string, ctx RenderContext) (string, error) {
	if ctx == nil {
		ctx = make(RenderContext)
	}

	tmpl, err := newSpellTemplate(name, content, r.options, templateFuncs())
	if err != nil {
		return "", err
	}

	return executeSpellTemplate(tmpl, name, ctx)
}

// newSpellTemplate parses content into a template configured with opts'
// missing-key policy and funcs.
func newSpellTemplate(name, content string, opts RenderOptions, funcs template.FuncMap) (*template.Template, error) {
	tmpl := template.New(name)
	if opts.MissingKeyError {
		tmpl = tmpl.Option("missingkey=error")
	} else {
		tmpl = tmpl.Option("missingkey=zero")
	}
	tmpl = tmpl.Funcs(funcs)

	parsed, err := tmpl.Parse(content)
	if err != nil {
		return nil, &TemplateParseError{Name: name, Content: content, Err: err}
	}
	return parsed, nil
}

// executeSpellTemplate runs tmpl against ctx, wrapping any failure in a
// TemplateRenderError.
func executeSpellTemplate(tmpl *template.Template, name string, ctx RenderContext) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", &TemplateRenderError{Name: name, Err: err}
	}
	return buf.String(), nil
}

// templateFuncs returns the function map available inside every spell
// template.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"default": func(defaultVal, val interface{}) interface{} {
			if val == nil {
				return defaultVal
			}
			if s, ok := val.(string); ok && s == "" {
				return defaultVal
			}
			return val
		},

		"join": func(sep string, items interface{}) string {
			switch v := items.(type) {
			case []string:
				return strings.Join(v, sep)
			case []interface{}:
				strs := make([]string, len(v))
				for i, item := range v {
					strs[i] = fmt.Sprint(item)
				}
				return strings.Join(strs, sep)
			default:
				return fmt.Sprint(items)
			}
		},

		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,

		"indent": func(spaces int, s string) string {
			prefix := strings.Repeat(" ", spaces)
			lines := strings.Split(s, "\n")
			for i, line := range lines {
				if line != "" {
					lines[i] = prefix + line
				}
			}
			return strings.Join(lines, "\n")
		},

		"quote": func(s string) string {
			return fmt.Sprintf("%q", s)
		},
	}
}

// TemplateParseError is returned when a spell template fails to parse.
type TemplateParseError struct {
	Name    string
	Content string
	Err     error
}

func (e *TemplateParseError) Error() string {
	return fmt.Sprintf("failed to parse spell template %q: %v", e.Name, e.Err)
}

func (e *TemplateParseError) Unwrap() error {
	return e.Err
}

// TemplateRenderError is returned when a parsed spell template fails to
// execute.
type TemplateRenderError struct {
	Name string
	Err  error
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("failed to render spell template %q: %v", e.Name, e.Err)
}

func (e *TemplateRenderError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is a TemplateParseError.
func IsParseError(err error) bool {
	_, ok := err.(*TemplateParseError)
	return ok
}

// IsRenderError reports whether err is a TemplateRenderError.
func IsRenderError(err error) bool {
	_, ok := err.(*TemplateRenderError)
	return ok
}
