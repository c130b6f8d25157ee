package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StepOutput is what a completed step leaves behind in the context:
// its raw output, a best-effort JSON parse of that output, and its outcome.
type StepOutput struct {
	Output   string                 `json:"output"`
	Outputs  map[string]interface{} `json:"outputs,omitempty"`
	Status   string                 `json:"status"`
	ExitCode int                    `json:"exit_code,omitempty"`
}

// BeadData is the bead metadata exposed to a workflow as {{.bead...}}.
type BeadData struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Type     string                 `json:"type"`
	Priority string                 `json:"priority"`
	Labels   []string               `json:"labels,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// ContextError reports a failed lookup or write against a StepContext,
// naming the dotted path involved.
type ContextError struct {
	Path    string
	Message string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("context error at %q: %s", e.Path, e.Message)
}

// IsContextError reports whether err is (or wraps) a ContextError.
func IsContextError(err error) bool {
	var ce *ContextError
	return errors.As(err, &ce)
}

// StoreStepOutput records a step's result under stepName, and additionally
// under outputName if one was given. Step outputs are append-only: neither
// name may already be bound to a value.
func (c *StepContext) StoreStepOutput(stepName string, result *StepResult, outputName string) error {
	if stepName == "" {
		return &ContextError{Path: stepName, Message: "step name cannot be empty"}
	}
	if _, exists := c.Variables[stepName]; exists {
		return &ContextError{Path: stepName, Message: "step output already exists and cannot be overwritten"}
	}

	output := &StepOutput{Output: result.Output, ExitCode: result.ExitCode}
	if result.Success {
		output.Status = "success"
	} else {
		output.Status = "failed"
	}
	if result.Output != "" {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(result.Output), &parsed); err == nil {
			output.Outputs = parsed
		}
	}

	c.Variables[stepName] = output

	if outputName != "" && outputName != stepName {
		if _, exists := c.Variables[outputName]; exists {
			return &ContextError{Path: outputName, Message: "output name already exists and cannot be overwritten"}
		}
		c.Variables[outputName] = output
	}

	return nil
}

// SetBead stores the active bead's data in the context.
func (c *StepContext) SetBead(bead *BeadData) {
	c.Variables["bead"] = bead
}

// GetBead returns the bead stored by SetBead, or nil if none was set.
func (c *StepContext) GetBead() *BeadData {
	bead, _ := c.Variables["bead"].(*BeadData)
	return bead
}

// SetLoopVariable exposes the current iteration of a loop step as
// {{.loop_name.iteration}}.
func (c *StepContext) SetLoopVariable(loopName string, iteration int) {
	c.Variables[loopName] = map[string]interface{}{"iteration": iteration}
}

// GetPath resolves a dot-separated path against the context, e.g.
// "bead.title", "step_name.outputs.field", "previous.success", or
// "loop_name.iteration".
func (c *StepContext) GetPath(path string) (interface{}, error) {
	if path == "" {
		return nil, &ContextError{Path: path, Message: "path cannot be empty"}
	}

	parts := strings.Split(path, ".")
	root, exists := c.Variables[parts[0]]
	if !exists {
		return nil, &ContextError{Path: path, Message: fmt.Sprintf("variable %q not found", parts[0])}
	}
	if len(parts) == 1 {
		return root, nil
	}

	return resolvePath(root, parts[1:], path)
}

// MustGetPath is GetPath but panics on error; use only where the path is
// known to exist.
func (c *StepContext) MustGetPath(path string) interface{} {
	val, err := c.GetPath(path)
	if err != nil {
		panic(err)
	}
	return val
}

// GetPathString resolves path and renders the result as a string.
func (c *StepContext) GetPathString(path string) (string, error) {
	val, err := c.GetPath(path)
	if err != nil {
		return "", err
	}
	return valueToString(val, path)
}

// GetPathInt resolves path and converts the result to an int.
func (c *StepContext) GetPathInt(path string) (int, error) {
	val, err := c.GetPath(path)
	if err != nil {
		return 0, err
	}

	switch v := val.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, &ContextError{Path: path, Message: fmt.Sprintf("cannot convert %T to int", val)}
	}
}

// GetPathBool resolves path and asserts the result is a bool.
func (c *StepContext) GetPathBool(path string) (bool, error) {
	val, err := c.GetPath(path)
	if err != nil {
		return false, err
	}
	if b, ok := val.(bool); ok {
		return b, nil
	}
	return false, &ContextError{Path: path, Message: fmt.Sprintf("cannot convert %T to bool", val)}
}

// HasPath reports whether path resolves to a value without error.
func (c *StepContext) HasPath(path string) bool {
	_, err := c.GetPath(path)
	return err == nil
}

// ToMap flattens the context's variables into a plain map suitable for
// template rendering, converting struct-typed values to maps so templates
// can reach their fields.
func (c *StepContext) ToMap() map[string]interface{} {
	result := make(map[string]interface{}, len(c.Variables))
	for k, v := range c.Variables {
		result[k] = toTemplateValue(v)
	}
	return result
}

// toTemplateValue converts a context value into something text/template
// can navigate with plain field access.
func toTemplateValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *StepOutput:
		m := map[string]interface{}{
			"output":    val.Output,
			"status":    val.Status,
			"exit_code": val.ExitCode,
		}
		if val.Outputs != nil {
			m["outputs"] = val.Outputs
		}
		return m
	case *BeadData:
		m := map[string]interface{}{
			"id":       val.ID,
			"title":    val.Title,
			"body":     val.Body,
			"type":     val.Type,
			"priority": val.Priority,
			"labels":   val.Labels,
		}
		for k, ev := range val.Extra {
			m[k] = ev
		}
		return m
	default:
		return v
	}
}

// resolvePath walks current through each of parts in turn, understanding
// the shapes StepOutput, BeadData, and plain maps can take.
func resolvePath(current interface{}, parts []string, fullPath string) (interface{}, error) {
	for i, part := range parts {
		if current == nil {
			return nil, &ContextError{
				Path:    fullPath,
				Message: fmt.Sprintf("nil value at %q", strings.Join(parts[:i], ".")),
			}
		}

		switch v := current.(type) {
		case *StepOutput:
			switch part {
			case "output":
				current = v.Output
			case "outputs":
				if v.Outputs == nil {
					return nil, &ContextError{Path: fullPath, Message: "step output was not valid JSON"}
				}
				current = v.Outputs
			case "status":
				current = v.Status
			case "exit_code":
				current = v.ExitCode
			default:
				return nil, &ContextError{Path: fullPath, Message: fmt.Sprintf("unknown field %q on step output", part)}
			}

		case *BeadData:
			switch part {
			case "id":
				current = v.ID
			case "title":
				current = v.Title
			case "body":
				current = v.Body
			case "type":
				current = v.Type
			case "priority":
				current = v.Priority
			case "labels":
				current = v.Labels
			default:
				if val, ok := v.Extra[part]; ok {
					current = val
					continue
				}
				return nil, &ContextError{Path: fullPath, Message: fmt.Sprintf("unknown field %q on bead", part)}
			}

		case map[string]interface{}:
			val, ok := v[part]
			if !ok {
				return nil, &ContextError{Path: fullPath, Message: fmt.Sprintf("field %q not found", part)}
			}
			current = val

		case []interface{}:
			return nil, &ContextError{Path: fullPath, Message: "cannot access field on array (use index syntax)"}

		default:
			return nil, &ContextError{Path: fullPath, Message: fmt.Sprintf("cannot access field %q on %T", part, current)}
		}
	}

	return current, nil
}

// valueToString renders val as a string for template interpolation,
// falling back to JSON for anything that isn't a scalar.
func valueToString(val interface{}, path string) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case int64:
		return fmt.Sprintf("%d", v), nil
	case float64:
		return fmt.Sprintf("%v", v), nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return "", &ContextError{Path: path, Message: fmt.Sprintf("cannot convert %T to string", val)}
		}
		return string(bytes), nil
	}
}
