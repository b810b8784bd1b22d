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

package validation

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Reason is the coarse class of a record failure.
type Reason string

const (
	ReasonSchema   Reason = "schema"
	ReasonFormat   Reason = "format"
	ReasonRequired Reason = "required"
	ReasonRange    Reason = "range"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonSchema, ReasonFormat, ReasonRequired, ReasonRange:
		return true
	}
	return false
}

// ErrorDescriptor is one violation found in a record.
type ErrorDescriptor struct {
	Field    string `json:"field"`
	Keyword  string `json:"keyword"`
	Reason   Reason `json:"reason"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

var printer = message.NewPrinter(language.English)

// describe flattens a validation error tree into its leaves, sorted by
// field so the first descriptor is stable across runs.
func describe(err error) []ErrorDescriptor {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []ErrorDescriptor{{Reason: ReasonSchema, Keyword: "unknown", Message: err.Error()}}
	}

	var out []ErrorDescriptor
	collectLeaves(ve, &out)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]ErrorDescriptor) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			collectLeaves(c, out)
		}
		return
	}
	*out = append(*out, leafDescriptor(ve))
}

func leafDescriptor(ve *jsonschema.ValidationError) ErrorDescriptor {
	d := ErrorDescriptor{
		Field:   strings.Join(ve.InstanceLocation, "."),
		Keyword: strings.Join(ve.ErrorKind.KeywordPath(), "/"),
		Reason:  ReasonSchema,
		Message: ve.ErrorKind.LocalizedString(printer),
	}

	switch k := ve.ErrorKind.(type) {
	case *kind.Required:
		d.Reason = ReasonRequired
		d.Field = joinField(d.Field, strings.Join(k.Missing, ","))
		d.Expected = "present"
		d.Actual = "missing"
	case *kind.Minimum:
		d.Reason = ReasonRange
		d.Expected, d.Actual = ">= "+ratString(k.Want), ratString(k.Got)
	case *kind.ExclusiveMinimum:
		d.Reason = ReasonRange
		d.Expected, d.Actual = "> "+ratString(k.Want), ratString(k.Got)
	case *kind.Maximum:
		d.Reason = ReasonRange
		d.Expected, d.Actual = "<= "+ratString(k.Want), ratString(k.Got)
	case *kind.ExclusiveMaximum:
		d.Reason = ReasonRange
		d.Expected, d.Actual = "< "+ratString(k.Want), ratString(k.Got)
	case *kind.MultipleOf:
		d.Reason = ReasonRange
		d.Expected, d.Actual = "multiple of "+ratString(k.Want), ratString(k.Got)
	case *kind.MinLength:
		d.Reason = ReasonRange
		d.Expected, d.Actual = fmt.Sprintf("length >= %d", k.Want), strconv.Itoa(k.Got)
	case *kind.MaxLength:
		d.Reason = ReasonRange
		d.Expected, d.Actual = fmt.Sprintf("length <= %d", k.Want), strconv.Itoa(k.Got)
	case *kind.MinItems:
		d.Reason = ReasonRange
		d.Expected, d.Actual = fmt.Sprintf("items >= %d", k.Want), strconv.Itoa(k.Got)
	case *kind.MaxItems:
		d.Reason = ReasonRange
		d.Expected, d.Actual = fmt.Sprintf("items <= %d", k.Want), strconv.Itoa(k.Got)
	case *kind.Format:
		d.Reason = ReasonFormat
		d.Expected, d.Actual = k.Want, fmt.Sprint(k.Got)
	case *kind.Pattern:
		d.Reason = ReasonFormat
		d.Expected, d.Actual = k.Want, k.Got
	case *kind.Type:
		d.Expected, d.Actual = strings.Join(k.Want, " or "), k.Got
	case *kind.Enum:
		d.Expected, d.Actual = fmt.Sprint(k.Want), fmt.Sprint(k.Got)
	}
	return d
}

func joinField(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

func ratString(r *big.Rat) string {
	if r == nil {
		return ""
	}
	if r.IsInt() {
		return r.Num().String()
	}
	f, _ := r.Float64()
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func malformedDescriptor(err error) ErrorDescriptor {
	return ErrorDescriptor{
		Keyword: "json",
		Reason:  ReasonFormat,
		Message: err.Error(),
	}
}
