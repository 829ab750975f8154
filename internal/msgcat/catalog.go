// Package msgcat holds the user-facing strings: status lines, info lines and error texts.
// English defaults are embedded; a directory of YAML files may replace individual messages.
package msgcat

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var embedded []byte

// Catalog is immutable once built and safe for concurrent use.
type Catalog struct {
	tpls map[string]*template.Template
}

// New compiles the embedded messages plus any overrides found in overrideDir.
// Overrides may only replace messages that exist in the defaults.
func New(overrideDir string) (*Catalog, error) {
	msgs, err := flatten(embedded)
	if err != nil {
		return nil, fmt.Errorf("embedded messages: %w", err)
	}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		over, err := readOverrides(dir)
		if err != nil {
			return nil, err
		}
		for k, v := range over {
			if _, ok := msgs[k]; !ok {
				return nil, fmt.Errorf("override %q: no such message", k)
			}
			msgs[k] = v
		}
	}

	c := &Catalog{tpls: make(map[string]*template.Template, len(msgs))}
	for k, v := range msgs {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("message %q is empty", k)
		}
		tpl, err := template.New(k).Option("missingkey=error").Parse(v)
		if err != nil {
			return nil, fmt.Errorf("message %q: %w", k, err)
		}
		c.tpls[k] = tpl
	}
	return c, nil
}

// Default is New("") for callers that cannot fail; the embedded file is part of the binary.
func Default() *Catalog {
	c, err := New("")
	if err != nil {
		panic(fmt.Sprintf("msgcat: embedded catalog: %v", err))
	}
	return c
}

// readOverrides merges every *.yaml / *.yml file in dir. A key set by two files is an error.
func readOverrides(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read messages dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			if !e.IsDir() {
				files = append(files, e.Name())
			}
		}
	}
	sort.Strings(files)

	merged := make(map[string]string)
	from := make(map[string]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		msgs, err := flatten(b)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for k, v := range msgs {
			if prev, dup := from[k]; dup {
				return nil, fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			from[k] = name
			merged[k] = v
		}
	}
	return merged, nil
}

// flatten turns nested YAML mappings into dot keys: status.draw.agreed.
func flatten(doc []byte) (map[string]string, error) {
	var root map[string]any
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	var walk func(prefix string, node any) error
	walk = func(prefix string, node any) error {
		switch v := node.(type) {
		case map[string]any:
			for k, child := range v {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				if err := walk(key, child); err != nil {
					return err
				}
			}
		case string:
			if prefix == "" {
				return errors.New("message without a key")
			}
			out[prefix] = v
		case nil:
		default:
			return fmt.Errorf("%s: messages must be strings, got %T", prefix, v)
		}
		return nil
	}
	if err := walk("", root); err != nil {
		return nil, err
	}
	return out, nil
}

// Has reports whether key names a message.
func (c *Catalog) Has(key string) bool {
	_, ok := c.tpls[strings.TrimSpace(key)]
	return ok
}

// Keys lists every message key in sorted order.
func (c *Catalog) Keys() []string {
	out := make([]string, 0, len(c.tpls))
	for k := range c.tpls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Render fills the message for key with data. Missing template fields are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
	tpl, ok := c.tpls[strings.TrimSpace(key)]
	if !ok {
		return "", fmt.Errorf("message not found: %s", key)
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderOr is Render with a fallback for display paths that must never be blank.
func (c *Catalog) RenderOr(key string, data any, fallback string) string {
	s, err := c.Render(key, data)
	if err != nil || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
