package roadmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// ErrInvalidPayload marks an initial payload whose shape cannot be aggregated.
var ErrInvalidPayload = errors.New("invalid roadmap payload")

// Collection names as they appear in the initial payload.
const (
	KeyReleases           = "releases"
	KeyFeatures           = "features"
	KeyListColumnItems    = "listColumnItems"
	KeyReleaseAssignments = "releaseAssignments"
	KeyColumnValues       = "columnValues"
)

// Collections holds the five flat collections of an initial payload.
type Collections struct {
	Releases           []Record
	Features           []Record
	ListColumnItems    []Record
	ReleaseAssignments []Record
	ColumnValues       []Record
}

const payloadSchemaURL = "initial_payload.json"

const payloadSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["releases", "features", "listColumnItems", "releaseAssignments", "columnValues"],
  "properties": {
    "releases":           {"$ref": "#/definitions/records"},
    "features":           {"$ref": "#/definitions/records"},
    "listColumnItems":    {"$ref": "#/definitions/records"},
    "releaseAssignments": {"$ref": "#/definitions/records"},
    "columnValues":       {"$ref": "#/definitions/records"}
  },
  "definitions": {
    "records": {"type": "array", "items": {"type": "object"}}
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		if err := c.AddResource(payloadSchemaURL, strings.NewReader(payloadSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = c.Compile(payloadSchemaURL)
	})
	return schemaCompiled, schemaErr
}

// ParseCollections validates body as an initial payload and splits it into its collections. Any
// shape problem is reported as ErrInvalidPayload naming the offending collection.
func ParseCollections(body []byte) (Collections, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Collections{}, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	if !gjson.ValidBytes(body) {
		return Collections{}, fmt.Errorf("%w: body is not valid JSON", ErrInvalidPayload)
	}
	if err := validateShape(body); err != nil {
		return Collections{}, err
	}
	root := gjson.ParseBytes(body)
	if key := repeatedCollection(root); key != "" {
		return Collections{}, fmt.Errorf("%w: duplicate key %s", ErrInvalidPayload, key)
	}
	return Collections{
		Releases:           records(root.Get(KeyReleases)),
		Features:           records(root.Get(KeyFeatures)),
		ListColumnItems:    records(root.Get(KeyListColumnItems)),
		ReleaseAssignments: records(root.Get(KeyReleaseAssignments)),
		ColumnValues:       records(root.Get(KeyColumnValues)),
	}, nil
}

func validateShape(body []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile payload schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", ErrInvalidPayload, describeViolation(ve))
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// describeViolation reports the first leaf violation, e.g. "features: expected array, but got string".
func describeViolation(ve *jsonschema.ValidationError) string {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return "payload: " + leaf.Message
	}
	collection := loc
	if idx := strings.Index(loc, "/"); idx >= 0 {
		collection = loc[:idx] + "[" + loc[idx+1:] + "]"
	}
	return collection + ": " + leaf.Message
}

// repeatedCollection returns the first collection key that occurs more than once at the top
// level. The schema sees the last occurrence while gjson reads the first.
func repeatedCollection(root gjson.Result) string {
	seen := make(map[string]bool, 5)
	var dup string
	root.ForEach(func(key, _ gjson.Result) bool {
		switch key.Str {
		case KeyReleases, KeyFeatures, KeyListColumnItems, KeyReleaseAssignments, KeyColumnValues:
			if seen[key.Str] {
				dup = key.Str
				return false
			}
			seen[key.Str] = true
		}
		return true
	})
	return dup
}

func records(arr gjson.Result) []Record {
	items := arr.Array()
	out := make([]Record, 0, len(items))
	for _, item := range items {
		out = append(out, Record{raw: item})
	}
	return out
}
