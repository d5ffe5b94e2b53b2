package cli

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/entityql/eql/internal/eql"
)

//go:embed schema.cue
var schemaSource []byte

// Person is a row of the dataset's people section.
type Person struct {
	Name string `yaml:"name" json:"name"`
	Age  int    `yaml:"age" json:"age"`
	Team string `yaml:"team" json:"team"`
}

// Team is a row of the dataset's teams section.
type Team struct {
	Name    string   `yaml:"name" json:"name"`
	Lead    string   `yaml:"lead" json:"lead,omitempty"`
	Members []string `yaml:"members" json:"members,omitempty"`
}

// Dataset is a YAML dataset the bundled demo queries run over.
type Dataset struct {
	People []*Person `yaml:"people" json:"people"`
	Teams  []*Team   `yaml:"teams" json:"teams"`
}

// Registry builds a fresh value registry holding every dataset row.
func (d *Dataset) Registry() *eql.Registry {
	reg := eql.NewRegistry()
	for _, p := range d.People {
		reg.Add(p)
	}
	for _, t := range d.Teams {
		reg.Add(t)
	}
	return reg
}

// LoadMode controls how errors are handled during dataset loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadError represents an error that occurred during dataset loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDataset reads a YAML dataset file and validates it against the
// embedded CUE schema. If mode is LoadModeFailFast, returns on the first
// error. If mode is LoadModeCollectAll, collects all schema errors.
func LoadDataset(path string, mode LoadMode) (*Dataset, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("dataset not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing dataset: %v", err)}}
	}
	if info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a file: %s", path)}}
	}
	if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
		return nil, []error{&LoadError{Code: ErrCodeNotYAML, Message: fmt.Sprintf("not a YAML file: %s", path)}}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeReadError, Message: fmt.Sprintf("reading dataset: %v", err)}}
	}

	var ds Dataset
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ds); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, []error{&LoadError{Code: ErrCodeEmptyDataset, Message: "dataset is empty"}}
		}
		return nil, []error{&LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("parsing YAML: %v", err)}}
	}

	if errs := validateSchema(data, mode); len(errs) > 0 {
		return nil, errs
	}

	if len(ds.People) == 0 && len(ds.Teams) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeEmptyDataset, Message: "dataset has no people and no teams"}}
	}

	return &ds, nil
}

// validateSchema checks the raw document against the embedded CUE schema.
func validateSchema(data []byte, mode LoadMode) []error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []error{&LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("parsing YAML: %v", err)}}
	}
	if doc == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("compiling schema: %v", err)}}
	}

	unified := schema.Unify(ctx.Encode(doc))
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []error
	for _, ce := range cueerrors.Errors(err) {
		format, args := ce.Msg()
		msg := fmt.Sprintf(format, args...)
		if p := ce.Path(); len(p) > 0 {
			msg = strings.Join(p, ".") + ": " + msg
		}
		errs = append(errs, &LoadError{Code: ErrCodeSchemaViolation, Message: msg, Pos: ce.Position()})
		if mode == LoadModeFailFast {
			break
		}
	}
	return errs
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeReadError       = "E002" // Dataset read error
	ErrCodeNotYAML         = "E003" // Not a YAML file
	ErrCodeParseFailed     = "E004" // YAML parse failed
	ErrCodeNotFound        = "E005" // Path not found
	ErrCodeSchemaViolation = "E006" // CUE schema violation
	ErrCodeEmptyDataset    = "E007" // Dataset has no rows
)
