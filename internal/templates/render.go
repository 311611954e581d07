package templates

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrMissingVariables = errors.New("missing template variables")

var markerPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_.\-]*)\}\}`)

// Marker returns the placeholder token for a variable name.
func Marker(name string) string {
	return "{{" + name + "}}"
}

// Rendered is the final message text.
type Rendered struct {
	Subject string
	Content string
}

// Renderer merges templates with variables. When Strict is false, declared
// variables missing from the map stay in the output as literal markers.
type Renderer struct {
	Strict bool
}

// Render substitutes every declared variable of t in both subject and
// content. Variables not declared by t are ignored.
func (r Renderer) Render(t Template, vars map[string]any) (Rendered, error) {
	if r.Strict {
		var missing []string
		for _, name := range t.Variables {
			if _, ok := vars[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return Rendered{}, fmt.Errorf("template %q: %w: %s", t.ID, ErrMissingVariables, strings.Join(missing, ", "))
		}
	}

	pairs := make([]string, 0, len(t.Variables)*2)
	for _, name := range t.Variables {
		v, ok := vars[name]
		if !ok {
			continue
		}
		pairs = append(pairs, Marker(name), stringify(v))
	}
	if len(pairs) == 0 {
		return Rendered{Subject: t.Subject, Content: t.Content}, nil
	}

	rep := strings.NewReplacer(pairs...)
	return Rendered{
		Subject: rep.Replace(t.Subject),
		Content: rep.Replace(t.Content),
	}, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// Placeholders lists the distinct marker names in text, in order of first use.
func Placeholders(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// Lint compares the markers used in t against its declared variables.
// undeclared are markers with no declaration; unused are declarations
// that never appear in subject or content.
func Lint(t Template) (undeclared, unused []string) {
	declared := make(map[string]struct{}, len(t.Variables))
	for _, v := range t.Variables {
		declared[v] = struct{}{}
	}

	used := make(map[string]struct{})
	for _, name := range Placeholders(t.Subject + "\n" + t.Content) {
		used[name] = struct{}{}
		if _, ok := declared[name]; !ok {
			undeclared = append(undeclared, name)
		}
	}
	for _, v := range t.Variables {
		if _, ok := used[v]; !ok {
			unused = append(unused, v)
		}
	}
	return undeclared, unused
}
