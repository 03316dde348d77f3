// Package catalogfile implements the template catalog port from a YAML file.
// The file is owned by the template subsystem; this adapter only reads it.
package catalogfile

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/template"
	"github.com/effortlog/effortlog/internal/port/catalog"
)

// Catalog resolves templates from a YAML file, loaded once on first use.
type Catalog struct {
	path string

	once sync.Once
	byID map[string]template.Template
	err  error
}

var _ catalog.Catalog = (*Catalog)(nil)

// New creates a catalog reading from path.
func New(path string) *Catalog {
	return &Catalog{path: path}
}

type catalogFile struct {
	Templates []template.Template `yaml:"templates"`
}

// Lookup returns the template for taskID, or domain.ErrNotFound.
func (c *Catalog) Lookup(_ context.Context, taskID string) (*template.Template, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return nil, c.err
	}
	tpl, ok := c.byID[taskID]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", taskID, domain.ErrNotFound)
	}
	out := tpl
	return &out, nil
}

func (c *Catalog) load() {
	c.byID = map[string]template.Template{}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return // empty catalog, every lookup misses
		}
		c.err = fmt.Errorf("read catalog %s: %w", c.path, err)
		return
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		c.err = fmt.Errorf("parse catalog %s: %w", c.path, err)
		return
	}
	for _, tpl := range f.Templates {
		c.byID[tpl.ID] = tpl
	}
}
