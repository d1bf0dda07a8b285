// Package session emulates a persistent working directory per target on top
// of a stateless execution primitive.
//
// Every remote execution starts in the login directory. The tracker remembers
// the directory changes an operator has issued for each target as a chain of
// "cd" steps and prefixes that chain to every later command line. Changes are
// recorded optimistically: the path is never checked remotely, so an invalid
// directory only shows up when the next command fails.
//
// A command is a directory change when, after trimming, its first
// whitespace-separated token is exactly "cd" and the rest is either empty
// (return to the login directory) or a single path argument without shell
// control operators. "cd /tmp && ls" is therefore an ordinary command. A
// leading "/d" switch, as cmd.exe accepts it, may precede the path.
package session

import (
	"strings"

	"neutron/internal/target"
)

// Separator joins chain steps and the final command
const Separator = " && "

// controlOperators make a "cd" line a compound command rather than a change
var controlOperators = []string{"&&", "||", ";", "|", "&", ">", "<", "\n", "`", "$("}

// Change is a classified directory-change request
type Change struct {
	Path  string // Empty means the login directory
	Drive bool   // Typed as "cd /d <path>"
}

// Home reports whether the change returns to the login directory
func (c Change) Home() bool {
	return c.Path == ""
}

// IsAbsolute reports whether the path anchors a fresh chain for the given kind
func (c Change) IsAbsolute(kind target.Kind) bool {
	p := unquote(c.Path)
	if p == "" {
		return true
	}

	switch kind {
	case target.KindWinRM:
		if strings.HasPrefix(p, `\`) || strings.HasPrefix(p, "/") {
			return true
		}
		// Drive letter: C:\ or C:/
		return len(p) >= 3 && isLetter(p[0]) && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
	default:
		return strings.HasPrefix(p, "/") || p == "~" || strings.HasPrefix(p, "~/")
	}
}

// Step renders the chain step that performs this change on the given kind
func (c Change) Step(kind target.Kind) string {
	// /d also switches drives; a POSIX shell gets the line as typed
	if kind == target.KindWinRM || c.Drive {
		return "cd /d " + c.Path
	}
	return "cd " + c.Path
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func unquote(p string) string {
	if len(p) >= 2 && (p[0] == '"' || p[0] == '\'') && p[len(p)-1] == p[0] {
		return p[1 : len(p)-1]
	}
	return p
}

// Classify reports whether command is a pure directory change
func Classify(command string) (Change, bool) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "cd" {
		return Change{}, true
	}
	if !strings.HasPrefix(trimmed, "cd") || len(trimmed) < 3 || !isSpace(trimmed[2]) {
		return Change{}, false
	}

	arg := strings.TrimSpace(trimmed[2:])
	drive := false
	if len(arg) > 3 && strings.EqualFold(arg[:2], "/d") && isSpace(arg[2]) {
		arg = strings.TrimSpace(arg[3:])
		drive = true
	}
	for _, op := range controlOperators {
		if strings.Contains(arg, op) {
			return Change{}, false
		}
	}

	// A single argument is either one quoted string or one unquoted word
	if arg[0] == '"' || arg[0] == '\'' {
		if end := strings.IndexByte(arg[1:], arg[0]); end != len(arg)-2 {
			return Change{}, false
		}
	} else if strings.ContainsAny(arg, " \t") {
		return Change{}, false
	}

	return Change{Path: arg, Drive: drive}, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

// Tracker holds the directory chain of every target, keyed by target identity.
// It is not safe for concurrent use: it is read and written only in the
// single-threaded preparation step that precedes each fan-out.
type Tracker struct {
	chains map[string]string
}

// NewTracker creates an empty tracker; every target starts in its login directory
func NewTracker() *Tracker {
	return &Tracker{chains: make(map[string]string)}
}

// Apply records change for t: absolute paths replace the chain, relative paths
// extend it, and a bare cd clears it.
func (tr *Tracker) Apply(t target.Target, change Change) {
	key := t.Key()

	switch {
	case change.Home():
		tr.Reset(t)
	case change.IsAbsolute(t.Kind):
		tr.chains[key] = change.Step(t.Kind)
	default:
		if chain, ok := tr.chains[key]; ok && chain != "" {
			tr.chains[key] = chain + Separator + change.Step(t.Kind)
		} else {
			tr.chains[key] = change.Step(t.Kind)
		}
	}
}

// Build returns the literal command line to run on t
func (tr *Tracker) Build(t target.Target, command string) string {
	chain := tr.chains[t.Key()]
	if chain == "" {
		return command
	}
	return chain + Separator + command
}

// Chain returns the stored chain for t, empty for the login directory
func (tr *Tracker) Chain(t target.Target) string {
	return tr.chains[t.Key()]
}

// Reset forgets the chain for t
func (tr *Tracker) Reset(t target.Target) {
	delete(tr.chains, t.Key())
}

// Len returns the number of targets away from their login directory
func (tr *Tracker) Len() int {
	return len(tr.chains)
}
