// Package inventory loads server declarations for neutron.
package inventory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"neutron/internal/errors"
	"neutron/internal/target"
)

// Provider defines the interface for inventory providers
type Provider interface {
	// LoadEntries returns the raw server entries in declaration order
	LoadEntries() ([]any, error)
	// Source describes where the entries came from
	Source() string
}

// Document is the on-disk shape of an inventory file
type Document struct {
	Servers []any `yaml:"servers" json:"servers"`
}

// FileInventory reads a YAML or JSON inventory file
type FileInventory struct {
	path string
}

// NewFileInventory creates a new file inventory provider
func NewFileInventory(path string) *FileInventory {
	return &FileInventory{path: path}
}

// Source returns the inventory file path
func (fi *FileInventory) Source() string {
	return fi.path
}

// LoadEntries loads the raw server entries from the file
func (fi *FileInventory) LoadEntries() ([]any, error) {
	file, err := os.Open(fi.path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to open inventory file %s", fi.path), err)
	}
	defer file.Close()

	return Decode(file, strings.ToLower(filepath.Ext(fi.path)) == ".json")
}

// Decode parses an inventory document; JSON when asJSON is set, YAML otherwise
func Decode(r io.Reader, asJSON bool) ([]any, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewConfigError("failed to read inventory", err)
	}

	var doc Document
	if asJSON {
		err = json.Unmarshal(content, &doc)
	} else {
		err = yaml.Unmarshal(content, &doc)
	}
	if err != nil {
		return nil, errors.NewConfigError("failed to parse inventory", err)
	}

	return doc.Servers, nil
}

// StaticInventory provides entries held in memory
type StaticInventory struct {
	entries []any
}

// NewStaticInventory creates a new static inventory
func NewStaticInventory(entries ...any) *StaticInventory {
	return &StaticInventory{entries: entries}
}

// LoadEntries returns the static entries
func (si *StaticInventory) LoadEntries() ([]any, error) {
	return si.entries, nil
}

// Source describes the static inventory
func (si *StaticInventory) Source() string {
	return "static"
}

// LoadRegistry loads entries from p and normalizes them into a registry
func LoadRegistry(p Provider, defaults target.Defaults) (*target.Registry, error) {
	entries, err := p.LoadEntries()
	if err != nil {
		return nil, err
	}
	reg, err := target.NewRegistry(entries, defaults)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid inventory %s", p.Source()), err)
	}
	return reg, nil
}
