// Package filter selects and groups inventory targets.
package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"neutron/internal/errors"
	"neutron/internal/target"
)

// Filter represents a host filter condition
type Filter interface {
	// Match returns true if the target matches the filter condition
	Match(t target.Target) bool
	// String returns a human-readable description of the filter
	String() string
}

// KindFilter filters hosts by transport kind
type KindFilter struct {
	Include []target.Kind
	Exclude []target.Kind
}

// NewKindFilter creates a new kind-based filter
func NewKindFilter(include, exclude []target.Kind) *KindFilter {
	return &KindFilter{Include: include, Exclude: exclude}
}

// Match checks the target kind against the include and exclude lists
func (f *KindFilter) Match(t target.Target) bool {
	for _, k := range f.Exclude {
		if t.Kind == k {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, k := range f.Include {
		if t.Kind == k {
			return true
		}
	}
	return false
}

// String returns a description of the kind filter
func (f *KindFilter) String() string {
	var parts []string
	if len(f.Include) > 0 {
		parts = append(parts, "kind: "+joinKinds(f.Include))
	}
	if len(f.Exclude) > 0 {
		parts = append(parts, "!kind: "+joinKinds(f.Exclude))
	}
	return strings.Join(parts, " AND ")
}

func joinKinds(kinds []target.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}

// PortFilter filters hosts by port
type PortFilter struct {
	Ports []int
}

// Match checks if the target port is listed
func (f *PortFilter) Match(t target.Target) bool {
	for _, p := range f.Ports {
		if t.Port == p {
			return true
		}
	}
	return false
}

// String returns a description of the port filter
func (f *PortFilter) String() string {
	ports := make([]string, len(f.Ports))
	for i, p := range f.Ports {
		ports[i] = strconv.Itoa(p)
	}
	return "port: " + strings.Join(ports, ",")
}

// HostFilter filters hosts by hostname patterns
type HostFilter struct {
	Pattern string
	IsRegex bool
	re      *regexp.Regexp
}

// NewHostFilter creates a hostname filter. Without isRegex the pattern is a
// wildcard where "*" matches any run of characters.
func NewHostFilter(pattern string, isRegex bool) (*HostFilter, error) {
	expr := pattern
	if !isRegex {
		expr = "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid host pattern '%s'", pattern), err)
	}
	return &HostFilter{Pattern: pattern, IsRegex: isRegex, re: re}, nil
}

// Match checks if target hostname matches the pattern
func (f *HostFilter) Match(t target.Target) bool {
	return f.re.MatchString(t.Host)
}

// String returns a description of the host filter
func (f *HostFilter) String() string {
	if f.IsRegex {
		return fmt.Sprintf("host regex: %s", f.Pattern)
	}
	return fmt.Sprintf("host pattern: %s", f.Pattern)
}

// CompositeFilter combines multiple filters with AND/OR logic
type CompositeFilter struct {
	Filters []Filter
	Logic   string // "AND" or "OR"
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(logic string, filters ...Filter) *CompositeFilter {
	return &CompositeFilter{
		Filters: filters,
		Logic:   strings.ToUpper(logic),
	}
}

// Match evaluates all filters with the specified logic
func (f *CompositeFilter) Match(t target.Target) bool {
	if len(f.Filters) == 0 {
		return true
	}

	switch f.Logic {
	case "AND":
		for _, filter := range f.Filters {
			if !filter.Match(t) {
				return false
			}
		}
		return true
	case "OR":
		for _, filter := range f.Filters {
			if filter.Match(t) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// String returns a description of the composite filter
func (f *CompositeFilter) String() string {
	if len(f.Filters) == 0 {
		return "no filters"
	}

	descriptions := make([]string, len(f.Filters))
	for i, filter := range f.Filters {
		descriptions[i] = filter.String()
	}
	return fmt.Sprintf("(%s)", strings.Join(descriptions, " "+f.Logic+" "))
}

// FilterTargets returns the targets matching every filter, in input order
func FilterTargets(targets []target.Target, filters ...Filter) []target.Target {
	if len(filters) == 0 {
		return targets
	}

	filtered := make([]target.Target, 0, len(targets))
	for _, t := range targets {
		match := true
		for _, filter := range filters {
			if !filter.Match(t) {
				match = false
				break
			}
		}
		if match {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// Group is a named set of targets in input order
type Group struct {
	Name    string
	Targets []target.Target
}

// GroupTargets groups targets by "kind", "port" or "domain". Groups are sorted
// by name; targets keep their input order within a group.
func GroupTargets(targets []target.Target, groupBy string) ([]Group, error) {
	var keyFn func(target.Target) string
	switch groupBy {
	case "kind":
		keyFn = func(t target.Target) string { return t.Kind.String() }
	case "port":
		keyFn = func(t target.Target) string { return strconv.Itoa(t.Port) }
	case "domain":
		keyFn = func(t target.Target) string {
			if idx := strings.Index(t.Host, "."); idx != -1 && !isDottedNumeric(t.Host) {
				return t.Host[idx+1:]
			}
			return "(none)"
		}
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("cannot group by '%s': must be kind, port or domain", groupBy), nil)
	}

	index := make(map[string]int)
	var groups []Group
	for _, t := range targets {
		key := keyFn(t)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Name: key})
		}
		groups[i].Targets = append(groups[i].Targets, t)
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// isDottedNumeric reports whether host is an IPv4 literal rather than a name
func isDottedNumeric(host string) bool {
	for _, r := range host {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ParseFilterExpression parses a filter expression string.
// Format: "host:web* host:regex:^db kind:winrm !kind:ssh port:22,2222"
// Terms are combined with AND.
func ParseFilterExpression(expression string) ([]Filter, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}

	var filters []Filter
	for _, part := range strings.Fields(expression) {
		switch {
		case strings.HasPrefix(part, "kind:"), strings.HasPrefix(part, "!kind:"):
			exclude := strings.HasPrefix(part, "!")
			spec := part[strings.Index(part, ":")+1:]
			kinds, err := parseKinds(spec)
			if err != nil {
				return nil, err
			}
			if exclude {
				filters = append(filters, NewKindFilter(nil, kinds))
			} else {
				filters = append(filters, NewKindFilter(kinds, nil))
			}

		case strings.HasPrefix(part, "port:"):
			var ports []int
			for _, s := range strings.Split(strings.TrimPrefix(part, "port:"), ",") {
				p, err := strconv.Atoi(s)
				if err != nil || p <= 0 || p > 65535 {
					return nil, errors.NewConfigError(fmt.Sprintf("invalid port '%s' in filter", s), nil)
				}
				ports = append(ports, p)
			}
			filters = append(filters, &PortFilter{Ports: ports})

		case strings.HasPrefix(part, "host:"):
			pattern := strings.TrimPrefix(part, "host:")
			pattern, isRegex := strings.CutPrefix(pattern, "regex:")
			filter, err := NewHostFilter(pattern, isRegex)
			if err != nil {
				return nil, err
			}
			filters = append(filters, filter)

		default:
			return nil, errors.NewConfigError(fmt.Sprintf("unknown filter term '%s'", part), nil)
		}
	}

	return filters, nil
}

func parseKinds(spec string) ([]target.Kind, error) {
	var kinds []target.Kind
	for _, s := range strings.Split(spec, ",") {
		k, err := target.ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
