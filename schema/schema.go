// Package schema validates persisted pulse documents against an embedded CUE
// schema before they are decoded.
package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed pulse.cue
var source string

// Kind selects the definition a document is checked against.
type Kind string

const (
	// KindBlock checks block documents.
	KindBlock Kind = "Block"
	// KindEnsemble checks ensemble documents.
	KindEnsemble Kind = "Ensemble"
	// KindSequence checks sequence documents.
	KindSequence Kind = "Sequence"
	// KindElement checks a single element.
	KindElement Kind = "Element"
)

var (
	once    sync.Once
	ctx     *cue.Context
	root    cue.Value
	initErr error
	mu      sync.Mutex
)

func load() error {
	once.Do(func() {
		ctx = cuecontext.New()
		root = ctx.CompileString(source, cue.Filename("pulse.cue"))
		initErr = root.Err()
	})
	return initErr
}

// ValidationError lists the schema violations of a document.
type ValidationError struct {
	Kind   Kind
	Name   string
	Issues []string
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s does not match schema: %v", e.Kind, e.Name, e.Issues)
	}
	return fmt.Sprintf("%s document does not match schema: %v", e.Kind, e.Issues)
}

// Validate checks doc against the definition of kind.
func Validate(kind Kind, doc map[string]interface{}) error {
	if err := load(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	// cue.Context is not safe for concurrent use.
	mu.Lock()
	defer mu.Unlock()

	def := root.LookupPath(cue.ParsePath("#" + string(kind)))
	if !def.Exists() {
		return fmt.Errorf("unknown schema kind %q", kind)
	}
	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode %s document: %w", kind, err)
	}
	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		name, _ := doc["name"].(string)
		verr := &ValidationError{Kind: kind, Name: name}
		for _, e := range errors.Errors(err) {
			verr.Issues = append(verr.Issues, e.Error())
		}
		return verr
	}
	return nil
}
