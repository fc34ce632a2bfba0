package scaffolder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"

	integration "github.com/GriffinCanCode/devportal/backend/internal/integrations/github"
)

var ErrExpression = errors.New("template expression failed")

var exprPattern = regexp.MustCompile(`\$\{\{\s*(.+?)\s*\}\}`)

// Renderer evaluates ${{ expr }} placeholders. Expressions are JavaScript
// run in a fresh goja runtime with the render context as globals; a
// trailing "| filter" or "| filter(args)" becomes filter(value, args).
type Renderer struct {
	timeout time.Duration
}

// NewRenderer creates a renderer with a per-expression time limit
func NewRenderer(timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Renderer{timeout: timeout}
}

// Render walks maps, lists and strings of v. A string made of a single
// expression keeps the expression's type; otherwise results are
// interpolated as text.
func (r *Renderer) Render(v interface{}, scope map[string]interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return r.renderString(t, scope)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			rendered, err := r.Render(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			rendered, err := r.Render(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderString renders s and formats the result as text
func (r *Renderer) RenderString(s string, scope map[string]interface{}) (string, error) {
	v, err := r.renderString(s, scope)
	if err != nil {
		return "", err
	}
	return stringify(v)
}

func (r *Renderer) renderString(s string, scope map[string]interface{}) (interface{}, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	vm := r.newVM(scope)
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return r.eval(vm, s[matches[0][2]:matches[0][3]])
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		v, err := r.eval(vm, s[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		text, err := stringify(v)
		if err != nil {
			return nil, err
		}
		b.WriteString(text)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func (r *Renderer) eval(vm *goja.Runtime, expr string) (interface{}, error) {
	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()

	v, err := vm.RunString("(" + applyFilters(expr) + ")")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExpression, expr, err)
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

func (r *Renderer) newVM(scope map[string]interface{}) *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	for k, v := range scope {
		_ = vm.Set(k, v)
	}
	_ = vm.Set("parseRepoUrl", parseRepoURL)
	_ = vm.Set("projectSlug", func(raw string) (string, error) {
		repo, err := integration.ParseRepoURL(raw)
		if err != nil {
			return "", err
		}
		return repo.Owner + "/" + repo.Name, nil
	})
	_ = vm.Set("lower", strings.ToLower)
	_ = vm.Set("upper", strings.ToUpper)
	_ = vm.Set("replace", strings.ReplaceAll)
	_ = vm.Set("dump", func(v interface{}) (string, error) {
		return sonic.MarshalString(v)
	})
	return vm
}

func parseRepoURL(raw string) (map[string]interface{}, error) {
	repo, err := integration.ParseRepoURL(raw)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"host": repo.Host, "owner": repo.Owner, "repo": repo.Name}, nil
}

// applyFilters rewrites "a | f | g(x)" to "g(f(a), x)"
func applyFilters(expr string) string {
	parts := splitPipes(expr)
	out := strings.TrimSpace(parts[0])
	for _, f := range parts[1:] {
		f = strings.TrimSpace(f)
		name, args, hasArgs := strings.Cut(f, "(")
		if !hasArgs {
			out = f + "(" + out + ")"
			continue
		}
		args = strings.TrimSuffix(strings.TrimSpace(args), ")")
		if strings.TrimSpace(args) == "" {
			out = name + "(" + out + ")"
		} else {
			out = name + "(" + out + ", " + args + ")"
		}
	}
	return out
}

// splitPipes splits on single | outside quotes and brackets
func splitPipes(expr string) []string {
	var parts []string
	depth := 0
	var quote rune
	start := 0
	runes := []rune(expr)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '|' && depth == 0:
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
				continue
			}
			parts = append(parts, string(runes[start:i]))
			start = i + 1
		}
	}
	return append(parts, string(runes[start:]))
}

// stringify formats a value for text interpolation
func stringify(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool, int, int64, float64:
		return fmt.Sprint(t), nil
	default:
		return sonic.MarshalString(t)
	}
}

// Truthy follows JavaScript truthiness for rendered step conditions
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
