// Package template expands per-target placeholders in operator commands.
//
// A command of the form "@name" refers to a registered snippet. When inline
// expansion is enabled, a command containing "{{" is parsed once as a
// text/template and rendered for every target with a Context describing that
// target. Otherwise commands are passed through byte for byte, so that remote
// tools with their own template syntax (docker --format '{{.Names}}') work.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"neutron/internal/errors"
	"neutron/internal/target"
)

// SnippetPrefix marks a command as a reference to a registered snippet
const SnippetPrefix = "@"

// Context provides data available in templates
type Context struct {
	Host string
	Port int
	Kind string
	User string
}

// NewContext builds the template context for a target
func NewContext(t target.Target, user string) Context {
	return Context{
		Host: t.Host,
		Port: t.Port,
		Kind: t.Kind.String(),
		User: user,
	}
}

// Engine holds named snippets and parses commands against a shared FuncMap
type Engine struct {
	snippets map[string]*template.Template
}

// NewEngine creates an engine preloaded with the built-in snippets
func NewEngine() *Engine {
	e := &Engine{snippets: make(map[string]*template.Template)}
	for name, text := range Snippets {
		// built-ins are constant and covered by tests
		_ = e.Register(name, text)
	}
	return e
}

// Register parses and stores a named snippet
func (e *Engine) Register(name, text string) error {
	tmpl, err := template.New(name).Funcs(funcs()).Parse(text)
	if err != nil {
		return errors.NewConfigError(fmt.Sprintf("failed to parse snippet '%s'", name), err)
	}
	e.snippets[name] = tmpl
	return nil
}

// Names returns the registered snippet names
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.snippets))
	for name := range e.snippets {
		names = append(names, name)
	}
	return names
}

// Prepared is a command ready to be rendered per target. A nil template means
// the command is used verbatim.
type Prepared struct {
	command string
	tmpl    *template.Template
}

// Prepare resolves snippet references and, when inline is set, parses
// inline templates once
func (e *Engine) Prepare(command string, inline bool) (*Prepared, error) {
	trimmed := strings.TrimSpace(command)
	if name, ok := strings.CutPrefix(trimmed, SnippetPrefix); ok && name != "" && !strings.ContainsAny(name, " \t") {
		tmpl, exists := e.snippets[name]
		if !exists {
			return nil, errors.NewConfigError(fmt.Sprintf("snippet '%s' not found", name), nil)
		}
		return &Prepared{command: command, tmpl: tmpl}, nil
	}

	if !inline || !IsTemplate(command) {
		return &Prepared{command: command}, nil
	}

	tmpl, err := template.New("inline").Funcs(funcs()).Option("missingkey=error").Parse(command)
	if err != nil {
		return nil, errors.NewConfigError("failed to parse command template", err)
	}
	return &Prepared{command: command, tmpl: tmpl}, nil
}

// Templated reports whether rendering depends on the target
func (p *Prepared) Templated() bool {
	return p.tmpl != nil
}

// Render produces the command for one target
func (p *Prepared) Render(ctx Context) (string, error) {
	if p.tmpl == nil {
		return p.command, nil
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, ctx); err != nil {
		return "", errors.NewConfigError(fmt.Sprintf("failed to render command for %s", ctx.Host), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// IsTemplate reports whether command opens a template action. An unclosed
// action is a template too, so that it fails to parse instead of being sent.
func IsTemplate(command string) bool {
	return strings.Contains(command, "{{")
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"title":     cases.Title(language.English).String,
		"trim":      strings.TrimSpace,
		"replace":   strings.ReplaceAll,
		"contains":  strings.Contains,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,

		"ifThen": func(condition bool, trueValue, falseValue string) string {
			if condition {
				return trueValue
			}
			return falseValue
		},

		"hostShort": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[:idx]
			}
			return host
		},

		"hostDomain": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[idx+1:]
			}
			return ""
		},

		"isWindows": func(kind string) bool {
			return kind == target.KindWinRM.String()
		},

		// pathSep returns the path separator of the target's shell
		"pathSep": func(kind string) string {
			if kind == target.KindWinRM.String() {
				return `\`
			}
			return "/"
		},
	}
}

// Snippets are the built-in commands reachable as "@name". Each branches on
// the target kind so one snippet fans out to mixed inventories.
var Snippets = map[string]string{
	"system-info": `
{{if isWindows .Kind}}systeminfo | findstr /B /C:"OS Name" /C:"OS Version" /C:"System Boot Time"
{{else}}echo "$(hostname) $(uname -sr) $(uname -m)"; uptime
{{end}}`,

	"disk": `
{{if isWindows .Kind}}wmic logicaldisk get caption,freespace,size
{{else}}df -h
{{end}}`,

	"whoami": `whoami`,

	"uptime": `
{{if isWindows .Kind}}net statistics workstation | findstr /C:"Statistics since"
{{else}}uptime
{{end}}`,
}
