package usage

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Payload kinds, named after their schema files.
const (
	kindTestReport = "test_report"
	kindTestUsage  = "test_usage"
	kindTask       = "task"
	kindTaskResult = "task_result"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		out := make(map[string]*jsonschema.Schema)
		for _, kind := range []string{kindTestReport, kindTestUsage, kindTask, kindTaskResult} {
			s, err := compileSchema(kind)
			if err != nil {
				schemasErr = err
				return
			}
			out[kind] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

func compileSchema(kind string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + kind + ".json")
	if err != nil {
		return nil, ErrSchema.Err(err)
	}
	url := "embedded://" + kind
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.LoadURL = func(u string) (io.ReadCloser, error) {
		if u == url {
			return io.NopCloser(bytes.NewReader(raw)), nil
		}
		return nil, fmt.Errorf("unsupported schema ref: %s", u)
	}
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, ErrSchema.Err(err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, ErrSchema.Err(err)
	}
	return s, nil
}

// validatePayload checks data against the schema of kind. Violations are
// reported as ErrInvalidUsage with one cause per failing location.
func validatePayload(kind string, data []byte) error {
	if !gjson.ValidBytes(data) {
		return ErrInvalidUsage.Msg("payload is not valid JSON")
	}
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return ErrInvalidUsage.Err(err)
	}
	if err := all[kind].Validate(v); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return ErrInvalidUsage.Err(leafErrors(verr)...)
		}
		return ErrInvalidUsage.Err(err)
	}
	return nil
}

func leafErrors(verr *jsonschema.ValidationError) []error {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []error{fmt.Errorf("%s: %s", loc, verr.Message)}
	}
	var out []error
	for _, c := range verr.Causes {
		out = append(out, leafErrors(c)...)
	}
	return out
}
