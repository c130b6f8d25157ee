package spell

import (
	"fmt"
	"strings"
)

// MaxIncludeDepth bounds how deeply one partial's {{include}} can nest
// before renderWithIncludes gives up and reports MaxDepthError.
const MaxIncludeDepth = 5

// IncludeError wraps a failure encountered while resolving an include.
type IncludeError struct {
	PartialName string
	Err         error
}

func (e *IncludeError) Error() string {
	return fmt.Sprintf("failed to include partial %q: %v", e.PartialName, e.Err)
}

func (e *IncludeError) Unwrap() error {
	return e.Err
}

// CircularIncludeError is returned when a partial transitively includes
// itself.
type CircularIncludeError struct {
	PartialName string
	Stack       []string
}

func (e *CircularIncludeError) Error() string {
	return fmt.Sprintf("circular include detected: %s -> %s", strings.Join(e.Stack, " -> "), e.PartialName)
}

// MaxDepthError is returned when an include chain exceeds MaxIncludeDepth.
type MaxDepthError struct {
	PartialName string
	Depth       int
	MaxDepth    int
}

func (e *MaxDepthError) Error() string {
	return fmt.Sprintf("include depth exceeded: %d > %d (including %q)", e.Depth, e.MaxDepth, e.PartialName)
}

// PartialRenderer is a Renderer that also resolves {{include "name"}}
// directives against a Loader, tracking the include chain to detect cycles
// and enforce MaxIncludeDepth.
type PartialRenderer struct {
	*Renderer
	loader *Loader
}

// NewPartialRenderer creates a partial-aware renderer using default render
// options.
func NewPartialRenderer(loader *Loader) *PartialRenderer {
	return &PartialRenderer{
		Renderer: NewRenderer(),
		loader:   loader,
	}
}

// NewPartialRendererWithOptions creates a partial-aware renderer with
// caller-supplied render options.
func NewPartialRendererWithOptions(loader *Loader, opts RenderOptions) *PartialRenderer {
	return &PartialRenderer{
		Renderer: NewRendererWithOptions(opts),
		loader:   loader,
	}
}

// Render renders spell's content, resolving any includes it contains.
func (r *PartialRenderer) Render(spell *Spell, ctx RenderContext) (string, error) {
	if spell == nil {
		return "", fmt.Errorf("spell cannot be nil")
	}
	return r.renderWithIncludes(spell.Name, spell.Content, ctx, nil)
}

// RenderString renders an arbitrary template string, resolving includes.
func (r *PartialRenderer) RenderString(name, content string, ctx RenderContext) (string, error) {
	return r.renderWithIncludes(name, content, ctx, nil)
}

// renderWithIncludes renders content, threading stack (the chain of partial
// names currently being expanded) through to detect cycles and depth
// overruns before they blow the Go call stack.
func (r *PartialRenderer) renderWithIncludes(name, content string, ctx RenderContext, stack []string) (string, error) {
	if ctx == nil {
		ctx = make(RenderContext)
	}

	for _, stackName := range stack {
		if stackName == name {
			return "", &CircularIncludeError{PartialName: name, Stack: stack}
		}
	}

	if len(stack) >= MaxIncludeDepth {
		return "", &MaxDepthError{PartialName: name, Depth: len(stack) + 1, MaxDepth: MaxIncludeDepth}
	}

	funcs := templateFuncs()
	funcs["include"] = r.makeIncludeFunc(ctx, append(stack, name))

	tmpl, err := newSpellTemplate(name, content, r.options, funcs)
	if err != nil {
		return "", err
	}

	return executeSpellTemplate(tmpl, name, ctx)
}

// makeIncludeFunc builds the {{include}} template function, closing over
// the parent context and the current include chain.
//
// Usage: {{include "partial-name" "key1" "value1" "key2" "value2"}}
// Or: {{include "partial-name"}} for no extra variables.
func (r *PartialRenderer) makeIncludeFunc(parentCtx RenderContext, stack []string) func(args ...interface{}) (string, error) {
	return func(args ...interface{}) (string, error) {
		if len(args) == 0 {
			return "", fmt.Errorf("include requires at least a partial name")
		}

		partialName, ok := args[0].(string)
		if !ok {
			return "", fmt.Errorf("include: partial name must be a string, got %T", args[0])
		}

		if len(args) > 1 && (len(args)-1)%2 != 0 {
			return "", fmt.Errorf("include: variables must be key-value pairs")
		}

		includeCtx := make(RenderContext, len(parentCtx))
		for k, v := range parentCtx {
			includeCtx[k] = v
		}
		for i := 1; i < len(args); i += 2 {
			key, ok := args[i].(string)
			if !ok {
				return "", fmt.Errorf("include: variable key must be a string, got %T", args[i])
			}
			includeCtx[key] = args[i+1]
		}

		partial, err := r.loader.Load(partialName)
		if err != nil {
			return "", &IncludeError{PartialName: partialName, Err: err}
		}

		result, err := r.renderWithIncludes(partialName, partial.Content, includeCtx, stack)
		if err != nil {
			return "", &IncludeError{PartialName: partialName, Err: err}
		}

		return result, nil
	}
}

// IsCircularIncludeError reports whether err is a CircularIncludeError.
func IsCircularIncludeError(err error) bool {
	_, ok := err.(*CircularIncludeError)
	return ok
}

// IsMaxDepthError reports whether err is a MaxDepthError.
func IsMaxDepthError(err error) bool {
	_, ok := err.(*MaxDepthError)
	return ok
}

// IsIncludeError reports whether err is an IncludeError.
func IsIncludeError(err error) bool {
	_, ok := err.(*IncludeError)
	return ok
}
