package symbols

import (
	"strconv"
	"strings"

	"github.com/coral-mesh/typescope/pkg/errkind"
)

// QualifiedName is a "module!name" reference. An empty Module means any
// loaded module.
type QualifiedName struct {
	Module string
	Name   string
}

func (q QualifiedName) String() string {
	if q.Module == "" {
		return q.Name
	}
	return q.Module + "!" + q.Name
}

// ParseQualifiedName splits "module!name" or a bare "name".
func ParseQualifiedName(s string) (QualifiedName, error) {
	const op = "parse name"
	s = strings.TrimSpace(s)
	module, name, found := strings.Cut(s, "!")
	if !found {
		module, name = "", s
	}
	if strings.Contains(name, "!") {
		return QualifiedName{}, errkind.New(errkind.InvalidArgument, op, "%q has more than one module separator", s)
	}
	if found && module == "" {
		return QualifiedName{}, errkind.New(errkind.InvalidArgument, op, "%q has an empty module", s)
	}
	if name == "" {
		return QualifiedName{}, errkind.New(errkind.InvalidArgument, op, "%q has an empty name", s)
	}
	return QualifiedName{Module: module, Name: name}, nil
}

// Step is one navigation step after the root of a path: a field name or
// an element index.
type Step struct {
	Field   string
	Index   int64
	IsIndex bool
}

func (s Step) String() string {
	if s.IsIndex {
		return "[" + strconv.FormatInt(s.Index, 10) + "]"
	}
	return "." + s.Field
}

// Path is a global reference followed by navigation, such as
// "dummy!g_garage.first.wheels[2].diameter".
type Path struct {
	Root  QualifiedName
	Steps []Step
}

func (p Path) String() string {
	var b strings.Builder
	b.WriteString(p.Root.String())
	for _, s := range p.Steps {
		b.WriteString(s.String())
	}
	return b.String()
}

// ParsePath parses a global reference with optional field and index steps.
// Indexes accept any base strconv.ParseInt understands with base 0.
func ParsePath(s string) (Path, error) {
	const op = "parse path"
	s = strings.TrimSpace(s)

	end := strings.IndexAny(s, ".[")
	if end < 0 {
		end = len(s)
	}
	root, err := ParseQualifiedName(s[:end])
	if err != nil {
		return Path{}, err
	}

	p := Path{Root: root}
	rest := s[end:]
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			n := strings.IndexAny(rest, ".[")
			if n < 0 {
				n = len(rest)
			}
			field := rest[:n]
			if field == "" || strings.ContainsAny(field, "]!") {
				return Path{}, errkind.New(errkind.InvalidArgument, op, "bad field name in %q", s)
			}
			p.Steps = append(p.Steps, Step{Field: field})
			rest = rest[n:]
		case '[':
			closeAt := strings.IndexByte(rest, ']')
			if closeAt < 0 {
				return Path{}, errkind.New(errkind.InvalidArgument, op, "unterminated index in %q", s)
			}
			idx, err := strconv.ParseInt(strings.TrimSpace(rest[1:closeAt]), 0, 64)
			if err != nil {
				return Path{}, errkind.New(errkind.InvalidArgument, op, "bad index %q in %q", rest[1:closeAt], s)
			}
			p.Steps = append(p.Steps, Step{Index: idx, IsIndex: true})
			rest = rest[closeAt+1:]
		default:
			return Path{}, errkind.New(errkind.InvalidArgument, op, "unexpected %q in %q", rest[0], s)
		}
	}
	return p, nil
}
