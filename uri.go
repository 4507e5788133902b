package svccall

import (
	"fmt"
	"net/url"
	"strings"
	"svccall/internal/errs"
	"svccall/message"
)

// URI is a parsed scheme://serviceName/schema/op[/args...]?query address.
type URI struct {
	ServiceName string
	Operation   string
	Args        []string
	Query       url.Values
}

func (u URI) Endpoint() message.ServiceEndpoint {
	return message.ServiceEndpoint{ServiceName: u.ServiceName, Operation: u.Operation}
}

// ParseURI splits raw into service, operation, positional args and query.
// The first two path segments name the operation.
func ParseURI(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %s", errs.ErrInvalidURI, err.Error())
	}
	if u.Scheme == "" || u.Host == "" {
		return URI{}, fmt.Errorf("%w: %q needs scheme://serviceName", errs.ErrInvalidURI, raw)
	}
	segs := splitPath(u.EscapedPath())
	if len(segs) < 2 {
		return URI{}, fmt.Errorf("%w: %q", errs.ErrInvalidOperation, u.Path)
	}
	for i, s := range segs {
		if segs[i], err = url.PathUnescape(s); err != nil {
			return URI{}, fmt.Errorf("%w: %s", errs.ErrInvalidURI, err.Error())
		}
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %s", errs.ErrInvalidURI, err.Error())
	}
	return URI{
		ServiceName: u.Host,
		Operation:   segs[0] + "." + segs[1],
		Args:        segs[2:],
		Query:       query,
	}, nil
}

func splitPath(p string) []string {
	res := make([]string, 0, 4)
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			res = append(res, s)
		}
	}
	return res
}

// ExpandURI fills the {name} variables of template. vars is either positional
// values, bound to the distinct names in order of appearance, or a single
// map[string]string / map[string]any. Values are escaped for the part of the
// URI they land in.
func ExpandURI(template string, vars ...any) (string, error) {
	if !strings.Contains(template, "{") {
		return template, nil
	}
	lookup := varLookup(vars)
	var (
		sb      strings.Builder
		inQuery bool
		names   = make(map[string]int)
	)
	rest := template
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			sb.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unclosed variable in %q", errs.ErrInvalidURI, template)
		}
		end += start
		literal := rest[:start]
		if strings.IndexByte(literal, '?') >= 0 {
			inQuery = true
		}
		sb.WriteString(literal)

		name := rest[start+1 : end]
		idx, seen := names[name]
		if !seen {
			idx = len(names)
			names[name] = idx
		}
		val, ok := lookup(name, idx)
		if !ok {
			return "", fmt.Errorf("%w: %s", errs.ErrMissingURIVar, name)
		}
		if inQuery {
			sb.WriteString(url.QueryEscape(val))
		} else {
			sb.WriteString(url.PathEscape(val))
		}
		rest = rest[end+1:]
	}
	return sb.String(), nil
}

func varLookup(vars []any) func(name string, idx int) (string, bool) {
	if len(vars) == 1 {
		switch m := vars[0].(type) {
		case map[string]string:
			return func(name string, _ int) (string, bool) {
				v, ok := m[name]
				return v, ok
			}
		case map[string]any:
			return func(name string, _ int) (string, bool) {
				v, ok := m[name]
				if !ok {
					return "", false
				}
				return fmt.Sprint(v), true
			}
		}
	}
	return func(_ string, idx int) (string, bool) {
		if idx >= len(vars) {
			return "", false
		}
		return fmt.Sprint(vars[idx]), true
	}
}
