// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package pipeline runs data sources through validation, invalid record
// capture and delivery.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/recordflow/internal/connection"
	"github.com/cardinalhq/recordflow/internal/delivery"
	"github.com/cardinalhq/recordflow/internal/validation"
)

var ErrUnknownDataSource = errors.New("unknown data source")

const DefaultPollInterval = 5 * time.Minute

// DataSource is read once per run and never mutated by it.
type DataSource struct {
	ID           string                 `yaml:"id" json:"id"`
	Name         string                 `yaml:"name" json:"name"`
	Supplier     string                 `yaml:"supplier,omitempty" json:"supplier,omitempty"`
	Category     string                 `yaml:"category,omitempty" json:"category,omitempty"`
	Active       bool                   `yaml:"active" json:"active"`
	Connection   connection.Descriptor  `yaml:"connection" json:"connection"`
	FilePattern  string                 `yaml:"filePattern,omitempty" json:"filePattern,omitempty"`
	Schema       string                 `yaml:"schema,omitempty" json:"schema,omitempty"`
	SchemaFile   string                 `yaml:"schemaFile,omitempty" json:"schemaFile,omitempty"`
	PollInterval time.Duration          `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
	Validation   validation.Options     `yaml:"validation,omitempty" json:"validation"`
	Output       delivery.Configuration `yaml:"output" json:"output"`
	CreatedAt    time.Time              `yaml:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt    time.Time              `yaml:"updatedAt,omitempty" json:"updatedAt"`
}

func (d DataSource) pattern() string {
	if d.FilePattern == "" || d.FilePattern == "*.*" {
		return "*"
	}
	return d.FilePattern
}

func (d DataSource) interval() time.Duration {
	if d.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return d.PollInterval
}

// schema falls back to the permissive default when none is configured.
func (d DataSource) schema() string {
	if d.Schema == "" {
		return validation.DefaultSchema
	}
	return d.Schema
}

func (d DataSource) Validate() error {
	var result *multierror.Error
	if d.Name == "" {
		result = multierror.Append(result, errors.New("name is required"))
	}
	if err := d.Connection.Validate(); err != nil {
		result = multierror.Append(result, err)
	} else if caps, _ := connection.CapabilitiesOf(d.Connection.Kind); !caps.Read {
		result = multierror.Append(result, fmt.Errorf("%s connections cannot be polled", d.Connection.Kind))
	}
	if _, err := filepath.Match(d.pattern(), "x"); err != nil {
		result = multierror.Append(result, fmt.Errorf("file pattern %q: %w", d.FilePattern, err))
	}
	for i := range d.Output.Destinations {
		if err := d.Output.Destinations[i].Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("data source %s: %w", d.ID, err)
	}
	return nil
}

// Catalog holds the configured data sources.
type Catalog struct {
	mu      sync.RWMutex
	sources map[string]DataSource
	order   []string
}

func NewCatalog(sources ...DataSource) (*Catalog, error) {
	c := &Catalog{sources: map[string]DataSource{}}
	var result *multierror.Error
	for _, ds := range sources {
		if err := c.Put(ds); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return c, result.ErrorOrNil()
}

type catalogFile struct {
	DataSources []DataSource `yaml:"dataSources"`
}

// LoadCatalog reads data sources from YAML. Schema files are resolved
// relative to the catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range f.DataSources {
		ds := &f.DataSources[i]
		if ds.Schema != "" || ds.SchemaFile == "" {
			continue
		}
		p := ds.SchemaFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		schema, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("data source %s: reading schema: %w", ds.Name, err)
		}
		ds.Schema = string(schema)
	}
	return NewCatalog(f.DataSources...)
}

// Put adds or replaces a data source. A missing id is generated.
func (c *Catalog) Put(ds DataSource) error {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if err := ds.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = now

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[ds.ID]; !ok {
		c.order = append(c.order, ds.ID)
	}
	c.sources[ds.ID] = ds
	return nil
}

func (c *Catalog) Get(id string) (DataSource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.sources[id]
	if !ok {
		return DataSource{}, fmt.Errorf("%w: %s", ErrUnknownDataSource, id)
	}
	return ds, nil
}

// List returns data sources in the order they were added.
func (c *Catalog) List() []DataSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DataSource, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.sources[id])
	}
	return out
}

// Active returns only the data sources that should be polled.
func (c *Catalog) Active() []DataSource {
	return slices.DeleteFunc(c.List(), func(ds DataSource) bool { return !ds.Active })
}
