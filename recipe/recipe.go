package recipe

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/waveform"
)

// Expression is a numeric recipe field. Plain numbers are kept as constants,
// everything else is compiled into an expr program over the recipe parameters.
type Expression struct {
	Source   string
	constant *float64
	program  *vm.Program
}

// UnmarshalYAML accepts scalar numbers and expression strings.
func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expression must be a scalar", node.Line)
	}
	e.Source = strings.TrimSpace(node.Value)
	return nil
}

// MarshalYAML writes the expression source back.
func (e Expression) MarshalYAML() (interface{}, error) {
	return e.Source, nil
}

// IsZero reports whether the expression was left empty.
func (e Expression) IsZero() bool { return strings.TrimSpace(e.Source) == "" }

func (e *Expression) compile() error {
	e.constant, e.program = nil, nil
	src := strings.TrimSpace(e.Source)
	if src == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(src, 64); err == nil {
		e.constant = &v
		return nil
	}
	program, err := expr.Compile(src, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
	if err != nil {
		return fmt.Errorf("compile %q: %w", src, err)
	}
	e.program = program
	return nil
}

// eval returns def when the expression is empty.
func (e *Expression) eval(env map[string]interface{}, def float64) (float64, error) {
	if e.constant != nil {
		return *e.constant, nil
	}
	if e.program == nil {
		if e.IsZero() {
			return def, nil
		}
		if err := e.compile(); err != nil {
			return 0, err
		}
		return e.eval(env, def)
	}
	out, err := vm.Run(e.program, env)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", e.Source, err)
	}
	v, err := toFloat(out)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", e.Source, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("evaluate %q: result is not finite", e.Source)
	}
	return v, nil
}

// Primitive configures the waveform on one analog channel.
type Primitive struct {
	Name   string                `yaml:"name"`
	Params map[string]Expression `yaml:"params,omitempty"`
}

// Element describes one element with lengths given in seconds.
type Element struct {
	Length    Expression           `yaml:"length"`
	Increment Expression           `yaml:"increment,omitempty"`
	Tick      bool                 `yaml:"tick,omitempty"`
	Analog    map[string]Primitive `yaml:"analog,omitempty"`
	Digital   map[string]bool      `yaml:"digital,omitempty"`
}

// Block is a named list of elements.
type Block struct {
	Name     string    `yaml:"name"`
	Elements []Element `yaml:"elements"`
}

// BlockStep plays a block repetitions+1 times.
type BlockStep struct {
	Block       string     `yaml:"block"`
	Repetitions Expression `yaml:"repetitions,omitempty"`
}

// EnsembleConfig lists the block steps of the generated ensemble.
type EnsembleConfig struct {
	Name  string      `yaml:"name,omitempty"`
	Steps []BlockStep `yaml:"steps"`
}

// SequenceStep is one step of an optional generated sequence.
type SequenceStep struct {
	Ensemble    string     `yaml:"ensemble,omitempty"`
	Repetitions Expression `yaml:"repetitions,omitempty"`
	GoTo        *int32     `yaml:"go_to,omitempty"`
	EventJumpTo *int32     `yaml:"event_jump_to,omitempty"`
	WaitFor     *int32     `yaml:"wait_for,omitempty"`
	FlagHigh    *int32     `yaml:"flag_high,omitempty"`
}

// SequenceConfig describes an optional sequence over the generated ensemble.
type SequenceConfig struct {
	Name  string         `yaml:"name,omitempty"`
	Steps []SequenceStep `yaml:"steps"`
}

// Recipe generates blocks, an ensemble and optionally a sequence from a set
// of numeric parameters.
type Recipe struct {
	Name          string             `yaml:"name"`
	Description   string             `yaml:"description,omitempty"`
	Parameters    map[string]float64 `yaml:"parameters,omitempty"`
	SampleRateHz  float64            `yaml:"sample_rate_hz"`
	RotatingFrame bool               `yaml:"rotating_frame,omitempty"`
	Channels      []string           `yaml:"channels"`
	Blocks        []Block            `yaml:"blocks"`
	Ensemble      EnsembleConfig     `yaml:"ensemble"`
	Sequence      *SequenceConfig    `yaml:"sequence,omitempty"`

	source string
}

// Generated holds the entities a recipe produced.
type Generated struct {
	Blocks     []*pulse.Block
	Ensemble   *pulse.Ensemble
	Sequence   *pulse.Sequence
	Parameters map[string]float64
}

// Library wraps the generated entities for sampling.
func (g *Generated) Library() *pulse.Library {
	var sequences []*pulse.Sequence
	if g.Sequence != nil {
		sequences = append(sequences, g.Sequence)
	}
	return pulse.NewLibrary(g.Blocks, []*pulse.Ensemble{g.Ensemble}, sequences)
}

// Parse decodes and compiles a recipe document.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads a recipe from a YAML file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", path, err)
	}
	r.source = path
	return r, nil
}

// LoadDir loads every *.yaml and *.yml file of a directory in name order.
// Recipe names must be unique across the directory.
func LoadDir(dir string) ([]*Recipe, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read recipe dir %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	seen := make(map[string]string, len(files))
	out := make([]*Recipe, 0, len(files))
	for _, file := range files {
		r, err := Load(file)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[r.Name]; ok {
			return nil, fmt.Errorf("recipe %s defined in %s and %s", r.Name, prev, file)
		}
		seen[r.Name] = file
		out = append(out, r)
	}
	return out, nil
}

// Source returns the file the recipe was loaded from, if any.
func (r *Recipe) Source() string { return r.source }

func (r *Recipe) compile() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("recipe name must not be empty")
	}
	if len(r.Blocks) == 0 {
		return fmt.Errorf("recipe %s: at least one block is required", r.Name)
	}
	if len(r.Ensemble.Steps) == 0 {
		return fmt.Errorf("recipe %s: ensemble needs at least one step", r.Name)
	}
	for name := range r.Parameters {
		if !isIdentifier(name) {
			return fmt.Errorf("recipe %s: invalid parameter name %q", r.Name, name)
		}
	}
	for bi := range r.Blocks {
		block := &r.Blocks[bi]
		for ei := range block.Elements {
			el := &block.Elements[ei]
			if el.Length.IsZero() {
				return fmt.Errorf("recipe %s block %s element %d: length is required", r.Name, block.Name, ei)
			}
			if err := compileAll(&el.Length, &el.Increment); err != nil {
				return fmt.Errorf("recipe %s block %s element %d: %w", r.Name, block.Name, ei, err)
			}
			for ch, prim := range el.Analog {
				for param, e := range prim.Params {
					if err := e.compile(); err != nil {
						return fmt.Errorf("recipe %s block %s element %d %s.%s: %w", r.Name, block.Name, ei, ch, param, err)
					}
					prim.Params[param] = e
				}
			}
		}
	}
	for i := range r.Ensemble.Steps {
		if err := r.Ensemble.Steps[i].Repetitions.compile(); err != nil {
			return fmt.Errorf("recipe %s ensemble step %d: %w", r.Name, i, err)
		}
	}
	if r.Sequence != nil {
		for i := range r.Sequence.Steps {
			if err := r.Sequence.Steps[i].Repetitions.compile(); err != nil {
				return fmt.Errorf("recipe %s sequence step %d: %w", r.Name, i, err)
			}
		}
	}
	return nil
}

func compileAll(exprs ...*Expression) error {
	for _, e := range exprs {
		if err := e.compile(); err != nil {
			return err
		}
	}
	return nil
}

// Build evaluates the recipe. Overrides replace declared parameters; unknown
// override names are rejected so typos do not go unnoticed.
func (r *Recipe) Build(overrides map[string]float64) (*Generated, error) {
	params := make(map[string]float64, len(r.Parameters))
	for k, v := range r.Parameters {
		params[k] = v
	}
	for k, v := range overrides {
		if _, ok := params[k]; !ok {
			return nil, fmt.Errorf("recipe %s: unknown parameter %q", r.Name, k)
		}
		params[k] = v
	}
	env := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		env[k] = v
	}
	env["pi"] = math.Pi
	env["sample_rate"] = r.SampleRateHz

	channels, err := pulse.ParseChannelSet(r.Channels)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", r.Name, err)
	}

	blocks := make([]*pulse.Block, 0, len(r.Blocks))
	for _, spec := range r.Blocks {
		block, err := r.buildBlock(spec, env)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	ensName := r.Ensemble.Name
	if ensName == "" {
		ensName = r.Name
	}
	steps := make([]pulse.BlockStep, 0, len(r.Ensemble.Steps))
	for i, step := range r.Ensemble.Steps {
		reps, err := repetitions(&step.Repetitions, env)
		if err != nil {
			return nil, fmt.Errorf("recipe %s ensemble step %d: %w", r.Name, i, err)
		}
		if reps < 0 || reps > math.MaxUint32 {
			return nil, fmt.Errorf("recipe %s ensemble step %d: repetitions %d out of range", r.Name, i, reps)
		}
		steps = append(steps, pulse.BlockStep{Block: step.Block, Repetitions: uint32(reps)})
	}
	ens, err := pulse.NewEnsemble(ensName, r.SampleRateHz, channels, r.RotatingFrame, steps...)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", r.Name, err)
	}
	ens.SetMeasurementInfo(measurementInfo(r.Name, params))
	lib := pulse.NewLibrary(blocks, nil, nil)
	if err := ens.Validate(lib); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", r.Name, err)
	}

	out := &Generated{Blocks: blocks, Ensemble: ens, Parameters: params}
	if r.Sequence != nil {
		seq, err := r.buildSequence(ensName, env)
		if err != nil {
			return nil, err
		}
		seq.SetMeasurementInfo(measurementInfo(r.Name, params))
		out.Sequence = seq
	}
	return out, nil
}

func (r *Recipe) buildBlock(spec Block, env map[string]interface{}) (*pulse.Block, error) {
	elements := make([]pulse.Element, 0, len(spec.Elements))
	for i, el := range spec.Elements {
		length, err := el.Length.eval(env, 0)
		if err != nil {
			return nil, elementErr(spec.Name, i, err)
		}
		increment, err := el.Increment.eval(env, 0)
		if err != nil {
			return nil, elementErr(spec.Name, i, err)
		}
		lengthBins, err := pulse.BinsFromSeconds(length, r.SampleRateHz)
		if err != nil {
			return nil, elementErr(spec.Name, i, err)
		}
		incrementBins, err := pulse.SignedBinsFromSeconds(increment, r.SampleRateHz)
		if err != nil {
			return nil, elementErr(spec.Name, i, err)
		}
		analog := make(map[pulse.ChannelID]waveform.Primitive, len(el.Analog))
		for raw, prim := range el.Analog {
			id, err := pulse.ParseChannelID(raw)
			if err != nil {
				return nil, elementErr(spec.Name, i, err)
			}
			p, err := buildPrimitive(prim, env)
			if err != nil {
				return nil, elementErr(spec.Name, i, fmt.Errorf("%s: %w", raw, err))
			}
			analog[id] = p
		}
		digital := make(map[pulse.ChannelID]bool, len(el.Digital))
		for raw, level := range el.Digital {
			id, err := pulse.ParseChannelID(raw)
			if err != nil {
				return nil, elementErr(spec.Name, i, err)
			}
			digital[id] = level
		}
		element, err := pulse.NewElement(lengthBins, incrementBins, analog, digital, el.Tick)
		if err != nil {
			return nil, elementErr(spec.Name, i, err)
		}
		elements = append(elements, element)
	}
	block, err := pulse.NewBlock(spec.Name, elements...)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", r.Name, err)
	}
	return block, nil
}

func (r *Recipe) buildSequence(ensemble string, env map[string]interface{}) (*pulse.Sequence, error) {
	name := r.Sequence.Name
	if name == "" {
		name = r.Name
	}
	steps := make([]pulse.SequenceStep, 0, len(r.Sequence.Steps))
	for i, spec := range r.Sequence.Steps {
		params := pulse.DefaultStepParams()
		if !spec.Repetitions.IsZero() {
			reps, err := repetitions(&spec.Repetitions, env)
			if err != nil {
				return nil, fmt.Errorf("recipe %s sequence step %d: %w", r.Name, i, err)
			}
			if reps < -1 || reps > math.MaxInt32 {
				return nil, fmt.Errorf("recipe %s sequence step %d: repetitions %d out of range", r.Name, i, reps)
			}
			params.Repetitions = int32(reps)
		}
		if spec.GoTo != nil {
			params.GoTo = *spec.GoTo
		}
		if spec.EventJumpTo != nil {
			params.EventJumpTo = *spec.EventJumpTo
		}
		if spec.WaitFor != nil {
			params.WaitFor = *spec.WaitFor
		}
		if spec.FlagHigh != nil {
			params.FlagHigh = *spec.FlagHigh
		}
		target := spec.Ensemble
		if target == "" {
			target = ensemble
		}
		steps = append(steps, pulse.SequenceStep{Ensemble: target, Params: params})
	}
	seq, err := pulse.NewSequence(name, r.RotatingFrame, steps...)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", r.Name, err)
	}
	return seq, nil
}

func buildPrimitive(spec Primitive, env map[string]interface{}) (waveform.Primitive, error) {
	kind, err := waveform.ParseKind(spec.Name)
	if err != nil {
		return waveform.Primitive{}, err
	}
	prim, err := waveform.Default(kind)
	if err != nil {
		return waveform.Primitive{}, err
	}
	names := make([]string, 0, len(spec.Params))
	for name := range spec.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := spec.Params[name]
		v, err := e.eval(env, 0)
		if err != nil {
			return waveform.Primitive{}, fmt.Errorf("%s: %w", name, err)
		}
		if prim, err = prim.WithParam(name, v); err != nil {
			return waveform.Primitive{}, err
		}
	}
	return prim, nil
}

func repetitions(e *Expression, env map[string]interface{}) (int64, error) {
	v, err := e.eval(env, 0)
	if err != nil {
		return 0, err
	}
	rounded := math.Round(v)
	if math.Abs(v-rounded) > 1e-9 {
		return 0, fmt.Errorf("repetitions %g is not an integer", v)
	}
	if rounded > math.MaxInt64 || rounded < math.MinInt64 {
		return 0, fmt.Errorf("repetitions %g out of range", v)
	}
	return int64(rounded), nil
}

func measurementInfo(name string, params map[string]float64) map[string]interface{} {
	values := make(map[string]interface{}, len(params))
	for k, v := range params {
		values[k] = v
	}
	return map[string]interface{}{"recipe": name, "parameters": values}
}

func elementErr(block string, index int, err error) error {
	return &pulse.ElementError{Block: block, Element: index, Err: err}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case nil:
		return 0, fmt.Errorf("undefined result")
	default:
		return 0, fmt.Errorf("result %v (%T) is not a number", v, v)
	}
}

func isIdentifier(name string) bool {
	if name == "" || name == "pi" || name == "sample_rate" {
		return false
	}
	for idx, r := range name {
		if idx == 0 && !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
		if idx > 0 && !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
