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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidSchema means the schema text itself could not be compiled.
// It is a configuration error for the data source, not a record failure.
var ErrInvalidSchema = errors.New("invalid json schema")

// DefaultSchema accepts any object. It is used when a source has no schema.
const DefaultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": true
}`

const schemaCacheTTL = 10 * time.Minute

type schemaCache struct {
	cache *ttlcache.Cache[string, *jsonschema.Schema]
}

func newSchemaCache() *schemaCache {
	c := &schemaCache{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *jsonschema.Schema](schemaCacheTTL),
		),
	}
	go c.cache.Start()
	return c
}

func (c *schemaCache) stop() {
	c.cache.Stop()
}

func schemaKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// get returns the compiled schema for text, compiling it on a miss.
func (c *schemaCache) get(text string) (*jsonschema.Schema, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultSchema
	}
	key := schemaKey(text)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	sch, err := compileSchema(text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, sch, ttlcache.DefaultTTL)
	return sch, nil
}

func compileSchema(text string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	compiler.AssertFormat()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return sch, nil
}
