// Package task loads batch task files.
//
// A task file is YAML with a "commands" list. Each entry is either a plain
// command string, sent to every target, or a record with "command" and an
// optional "type" restricting it to targets of one transport kind:
//
//	commands:
//	  - hostname
//	  - cd /var/log
//	  - type: winrm
//	    command: ipconfig /all
package task

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"neutron/internal/errors"
	"neutron/internal/target"
)

// Command is one entry of a task file. A nil Kind sends it to all targets.
type Command struct {
	Kind    *target.Kind
	Command string
}

// String returns the command prefixed with its kind when it has one
func (c Command) String() string {
	if c.Kind == nil {
		return c.Command
	}
	return fmt.Sprintf("[%s] %s", c.Kind, c.Command)
}

// UnmarshalYAML accepts a scalar command or a {type, command} mapping
func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		c.Command = node.Value
	case yaml.MappingNode:
		var record struct {
			Type    string `yaml:"type"`
			Command string `yaml:"command"`
		}
		if err := node.Decode(&record); err != nil {
			return err
		}
		c.Command = record.Command
		if record.Type != "" {
			kind, err := target.ParseKind(record.Type)
			if err != nil {
				return fmt.Errorf("line %d: %w", node.Line, err)
			}
			c.Kind = &kind
		}
	default:
		return fmt.Errorf("line %d: command must be a string or a mapping", node.Line)
	}

	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("line %d: empty command", node.Line)
	}
	return nil
}

// File is an ordered batch of commands
type File struct {
	Path     string    `yaml:"-"`
	Commands []Command `yaml:"commands"`
}

// Parse decodes task file content
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewConfigError("failed to parse task file", err)
	}
	if len(f.Commands) == 0 {
		return nil, errors.NewConfigError("task file contains no commands", nil)
	}
	return &f, nil
}

// Load reads and parses a task file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to read task file %s", path), err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid task file %s", path), err)
	}
	f.Path = path
	return f, nil
}
