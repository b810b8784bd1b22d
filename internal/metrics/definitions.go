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

package metrics

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ScopeGlobal definitions are answered by the system querier. Every other
// scope goes to the business querier.
const ScopeGlobal = "global"

// Definition is a named PromQL formula evaluated on every collector tick.
type Definition struct {
	ID             string     `yaml:"id" json:"id"`
	Name           string     `yaml:"name" json:"name"`
	Scope          string     `yaml:"scope" json:"scope"`
	DataSourceID   string     `yaml:"dataSourceId,omitempty" json:"dataSourceId,omitempty"`
	DataSourceName string     `yaml:"dataSourceName,omitempty" json:"dataSourceName,omitempty"`
	Category       string     `yaml:"category,omitempty" json:"category,omitempty"`
	Formula        string     `yaml:"formula" json:"formula"`
	Active         bool       `yaml:"active" json:"active"`
	LastValue      *float64   `yaml:"-" json:"lastValue,omitempty"`
	LastEvaluated  *time.Time `yaml:"-" json:"lastEvaluated,omitempty"`
}

// Vars are the substitution variables a definition provides to its own
// formula and to alert rules bound to it.
func (d Definition) Vars() Vars {
	return Vars{
		"datasource_name": d.DataSourceName,
		"datasource_id":   d.DataSourceID,
		"metric_name":     d.Name,
		"category":        d.Category,
		"scope":           d.Scope,
	}
}

type DefinitionStore interface {
	Active(ctx context.Context) ([]Definition, error)
	Get(ctx context.Context, id string) (Definition, bool, error)
	SetLastValue(ctx context.Context, id string, v float64, at time.Time) error
}

// MemoryDefinitions holds definitions loaded at startup.
type MemoryDefinitions struct {
	mu   sync.RWMutex
	defs []Definition
}

func NewMemoryDefinitions(defs ...Definition) *MemoryDefinitions {
	return &MemoryDefinitions{defs: slices.Clone(defs)}
}

type definitionsFile struct {
	Definitions []Definition `yaml:"definitions"`
}

// LoadDefinitions reads a YAML file with a top-level "definitions" list.
func LoadDefinitions(path string) (*MemoryDefinitions, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f definitionsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	seen := map[string]bool{}
	for _, d := range f.Definitions {
		if d.ID == "" || d.Formula == "" {
			return nil, fmt.Errorf("%s: definition %q needs an id and a formula", path, d.Name)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%s: duplicate definition id %q", path, d.ID)
		}
		seen[d.ID] = true
	}
	return NewMemoryDefinitions(f.Definitions...), nil
}

func (m *MemoryDefinitions) Active(_ context.Context) ([]Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Definition
	for _, d := range m.defs {
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryDefinitions) Get(_ context.Context, id string) (Definition, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.defs {
		if d.ID == id {
			return d, true, nil
		}
	}
	return Definition{}, false, nil
}

func (m *MemoryDefinitions) SetLastValue(_ context.Context, id string, v float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.defs {
		if m.defs[i].ID == id {
			m.defs[i].LastValue = &v
			m.defs[i].LastEvaluated = &at
			return nil
		}
	}
	return fmt.Errorf("metric definition %q not found", id)
}
