package envspec

import (
	"fmt"
	"strings"
)

// Decl is one parsed environment variable declaration.
//
// The accepted forms and what they parse to:
//
//	NAME                 -> {Name, Required: true}
//	NAME=value           -> {Name, HasDefault: true, Default: "value"}
//	NAME=${VAR}          -> {Name, FromVar: "VAR", Required: true}
//	NAME=${VAR:-default} -> {Name, FromVar: "VAR", HasDefault: true, Default: "default"}
//	NAME=${VAR:-}        -> {Name, FromVar: "VAR", Required: true}
//
// An empty interpolation default means the variable is required, not
// that the empty string is an acceptable value.
type Decl struct {
	Name       string
	FromVar    string
	HasDefault bool
	Default    string
	Required   bool
}

// Parse parses a single declaration
func Parse(s string) (Decl, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decl{}, fmt.Errorf("empty env declaration")
	}

	name, rest, hasValue := strings.Cut(s, "=")
	if !validName(name) {
		return Decl{}, fmt.Errorf("invalid env name %q", name)
	}

	if !hasValue {
		return Decl{Name: name, Required: true}, nil
	}

	// ${VAR} and ${VAR:-default} interpolation forms
	if strings.HasPrefix(rest, "${") {
		if !strings.HasSuffix(rest, "}") {
			return Decl{}, fmt.Errorf("unterminated interpolation in %q", s)
		}
		inner := rest[2 : len(rest)-1]

		varName, def, hasDef := strings.Cut(inner, ":-")
		if !validName(varName) {
			return Decl{}, fmt.Errorf("invalid interpolation variable %q in %q", varName, s)
		}
		if !hasDef {
			return Decl{Name: name, FromVar: varName, Required: true}, nil
		}
		if def == "" {
			return Decl{Name: name, FromVar: varName, Required: true}, nil
		}
		return Decl{Name: name, FromVar: varName, HasDefault: true, Default: def}, nil
	}

	return Decl{Name: name, HasDefault: true, Default: rest}, nil
}

// ParseAll parses a list of declarations
func ParseAll(specs []string) ([]Decl, error) {
	decls := make([]Decl, 0, len(specs))
	for _, s := range specs {
		d, err := Parse(s)
		if err != nil {
			return nil, err
		}
		decls = append(decls, d)
	}
	return decls, nil
}

// Resolve evaluates declarations against a lookup of available
// variables. Missing required variables produce an error naming them.
func Resolve(decls []Decl, lookup map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(decls))
	var missing []string

	for _, d := range decls {
		source := d.Name
		if d.FromVar != "" {
			source = d.FromVar
		}

		if v, ok := lookup[source]; ok {
			out[d.Name] = v
			continue
		}
		if d.HasDefault {
			out[d.Name] = d.Default
			continue
		}
		if d.Required {
			missing = append(missing, d.Name)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required env variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r == '_':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
