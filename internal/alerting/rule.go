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

// Package alerting evaluates threshold rules against metric queries and
// reports state transitions.
package alerting

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/recordflow/internal/metrics"
)

const (
	DefaultConsecutiveBreaches = 1
	DefaultCooldown            = 300 * time.Second
)

var ErrInvalidRule = errors.New("invalid alert rule")

type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// Breached reports whether v is on the alerting side of threshold.
func (o Operator) Breached(v, threshold float64) bool {
	switch o {
	case OpGreater:
		return v > threshold
	case OpGreaterEqual:
		return v >= threshold
	case OpLess:
		return v < threshold
	case OpLessEqual:
		return v <= threshold
	case OpEqual:
		return v == threshold
	}
	return false
}

func (o Operator) valid() bool {
	switch o {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual:
		return true
	}
	return false
}

// Rule is a threshold over the result of a PromQL query. MetricID binds
// the rule to a metric definition whose variables the query may use.
type Rule struct {
	ID                  string            `yaml:"id" json:"id"`
	Name                string            `yaml:"name" json:"name"`
	MetricID            string            `yaml:"metricId,omitempty" json:"metricId,omitempty"`
	Query               string            `yaml:"query" json:"query"`
	Operator            Operator          `yaml:"operator" json:"operator"`
	Threshold           float64           `yaml:"threshold" json:"threshold"`
	ConsecutiveBreaches int               `yaml:"consecutiveBreaches,omitempty" json:"consecutiveBreaches,omitempty"`
	Cooldown            time.Duration     `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	Severity            string            `yaml:"severity,omitempty" json:"severity,omitempty"`
	Labels              map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Vars                metrics.Vars      `yaml:"vars,omitempty" json:"vars,omitempty"`
	Disabled            bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

func (r Rule) breachesNeeded() int {
	if r.ConsecutiveBreaches < 1 {
		return DefaultConsecutiveBreaches
	}
	return r.ConsecutiveBreaches
}

func (r Rule) cooldown() time.Duration {
	if r.Cooldown <= 0 {
		return DefaultCooldown
	}
	return r.Cooldown
}

func (r Rule) Validate() error {
	var result *multierror.Error
	if r.ID == "" {
		result = multierror.Append(result, errors.New("id is required"))
	}
	if r.Query == "" {
		result = multierror.Append(result, errors.New("query is required"))
	}
	if !r.Operator.valid() {
		result = multierror.Append(result, fmt.Errorf("unknown operator %q", r.Operator))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidRule, r.ID, err)
	}
	return nil
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML file with a top-level "rules" list.
func LoadRules(path string) ([]Rule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f rulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	var errs *multierror.Error
	for _, r := range f.Rules {
		if err := r.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return f.Rules, nil
}
