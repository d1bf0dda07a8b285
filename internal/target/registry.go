package target

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"neutron/internal/errors"
)

// Normalize turns raw inventory entries into canonical targets.
// An entry is either a bare host string or a record with "host", "port" and
// "type" keys. Output order equals declaration order.
func Normalize(raw []any, defaults Defaults) ([]Target, error) {
	if len(raw) == 0 {
		return nil, errors.NewConfigError("inventory is empty: at least one server is required", nil)
	}

	targets := make([]Target, 0, len(raw))
	seen := make(map[string]int, len(raw))

	for i, entry := range raw {
		t, err := normalizeEntry(entry, defaults)
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("server %d", i+1), err)
		}
		if prev, dup := seen[t.Key()]; dup {
			return nil, errors.NewConfigError(fmt.Sprintf("server %d duplicates server %d (%s)", i+1, prev, t.Key()), nil)
		}
		seen[t.Key()] = i + 1
		targets = append(targets, t)
	}

	return targets, nil
}

func normalizeEntry(entry any, defaults Defaults) (Target, error) {
	switch v := entry.(type) {
	case string:
		host, port, err := ParseHostSpec(v)
		if err != nil {
			return Target{}, err
		}
		t := Target{Host: host, Port: port, Kind: KindSSH}
		if t.Port == 0 {
			t.Port = defaults.PortFor(t.Kind)
		}
		return t, t.Validate()
	case map[string]any:
		return normalizeRecord(v, defaults)
	case map[any]any:
		record := make(map[string]any, len(v))
		for key, value := range v {
			record[fmt.Sprint(key)] = value
		}
		return normalizeRecord(record, defaults)
	case nil:
		return Target{}, errors.NewConfigError("empty entry", nil)
	default:
		return Target{}, errors.NewConfigError(fmt.Sprintf("unsupported entry of type %T: expected host string or record", entry), nil)
	}
}

func normalizeRecord(record map[string]any, defaults Defaults) (Target, error) {
	rawHost, ok := record["host"]
	if !ok || rawHost == nil {
		return Target{}, errors.NewConfigError("missing required field 'host'", nil)
	}
	host, ok := rawHost.(string)
	if !ok || strings.TrimSpace(host) == "" {
		return Target{}, errors.NewConfigError("field 'host' must be a non-empty string", nil)
	}

	t := Target{Host: strings.TrimSpace(host), Kind: KindSSH}

	if rawKind, ok := record["type"]; ok && rawKind != nil {
		kindStr, isString := rawKind.(string)
		if !isString {
			return Target{}, errors.NewConfigError(fmt.Sprintf("field 'type' must be a string, got %T", rawKind), nil)
		}
		kind, err := ParseKind(kindStr)
		if err != nil {
			return Target{}, err
		}
		t.Kind = kind
	}

	if rawPort, ok := record["port"]; ok && rawPort != nil {
		port, err := toPort(rawPort)
		if err != nil {
			return Target{}, err
		}
		t.Port = port
	} else {
		t.Port = defaults.PortFor(t.Kind)
	}

	return t, t.Validate()
}

// toPort accepts the numeric shapes produced by the YAML and JSON decoders
func toPort(v any) (int, error) {
	switch p := v.(type) {
	case int:
		return p, nil
	case int64:
		return int(p), nil
	case uint64:
		return int(p), nil
	case float64:
		if p != math.Trunc(p) {
			return 0, errors.NewConfigError(fmt.Sprintf("port %v is not an integer", p), nil)
		}
		return int(p), nil
	case string:
		port, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, errors.NewConfigError(fmt.Sprintf("invalid port number %q", p), err)
		}
		return port, nil
	default:
		return 0, errors.NewConfigError(fmt.Sprintf("field 'port' has unsupported type %T", v), nil)
	}
}

// Registry owns the ordered target set for the lifetime of the process
type Registry struct {
	targets []Target
}

// NewRegistry normalizes raw entries and returns a registry holding them
func NewRegistry(raw []any, defaults Defaults) (*Registry, error) {
	targets, err := Normalize(raw, defaults)
	if err != nil {
		return nil, err
	}
	return &Registry{targets: targets}, nil
}

// NewRegistryFromTargets builds a registry from already validated targets
func NewRegistryFromTargets(targets []Target) (*Registry, error) {
	if len(targets) == 0 {
		return nil, errors.NewConfigError("no targets selected", nil)
	}
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return &Registry{targets: append([]Target(nil), targets...)}, nil
}

// Targets returns the targets in declaration order
func (r *Registry) Targets() []Target {
	return append([]Target(nil), r.targets...)
}

// Len returns the number of registered targets
func (r *Registry) Len() int {
	return len(r.targets)
}

// ByKind returns the targets of one kind, in declaration order
func (r *Registry) ByKind(kind Kind) []Target {
	var out []Target
	for _, t := range r.targets {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Kinds returns the distinct kinds present in the registry
func (r *Registry) Kinds() []Kind {
	var kinds []Kind
	for _, k := range Kinds() {
		if len(r.ByKind(k)) > 0 {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
