// Package store keeps the named blocks, ensembles and sequences an editing
// layer works on and hands out immutable snapshots for sampling.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/timzifer/pulsed/pulse"
)

// ErrNotFound is returned when a named entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrStale is returned when sampling info refers to a definition that has
// changed since the snapshot it was computed from.
var ErrStale = errors.New("definition changed since snapshot")

// Generation identifies one version of an ensemble or sequence definition.
// It changes whenever the entity, or anything it plays, is replaced or
// deleted. Recording sampling info does not change it.
type Generation uint64

// Generations holds the definition generations a snapshot was taken at.
type Generations struct {
	Ensembles map[string]Generation
	Sequences map[string]Generation
}

// Store is the name-keyed arena of pulse entities.
type Store interface {
	PutBlock(block *pulse.Block) error
	PutEnsemble(ens *pulse.Ensemble) error
	PutSequence(seq *pulse.Sequence) error
	DeleteBlock(name string) error
	DeleteEnsemble(name string) error
	DeleteSequence(name string) error
	Block(name string) (*pulse.Block, bool)
	Ensemble(name string) (*pulse.Ensemble, bool)
	Sequence(name string) (*pulse.Sequence, bool)
	SetEnsembleSamplingInfo(name string, at Generation, info map[string]interface{}) error
	SetSequenceSamplingInfo(name string, at Generation, info map[string]interface{}) error
	Names() Names
	Snapshot() *pulse.Library
	Capture() (*pulse.Library, Generations)
}

// Names lists the stored entity names, sorted.
type Names struct {
	Blocks    []string
	Ensembles []string
	Sequences []string
}

// Memory is an in-memory Store. All accessors copy, so callers never share
// state with the store.
type Memory struct {
	mu        sync.RWMutex
	blocks    map[string]*pulse.Block
	ensembles map[string]*pulse.Ensemble
	sequences map[string]*pulse.Sequence

	clock  Generation
	ensGen map[string]Generation
	seqGen map[string]Generation
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blocks:    make(map[string]*pulse.Block),
		ensembles: make(map[string]*pulse.Ensemble),
		sequences: make(map[string]*pulse.Sequence),
		ensGen:    make(map[string]Generation),
		seqGen:    make(map[string]Generation),
	}
}

func (m *Memory) tick() Generation {
	m.clock++
	return m.clock
}

// PutBlock stores a copy of block. Ensembles playing the block lose their
// sampling and measurement info, as do the sequences referencing them.
func (m *Memory) PutBlock(block *pulse.Block) error {
	if block == nil {
		return fmt.Errorf("block must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[block.Name()] = block.Clone()
	m.invalidateBlockUsers(block.Name())
	return nil
}

// PutEnsemble stores a copy of ens.
func (m *Memory) PutEnsemble(ens *pulse.Ensemble) error {
	if ens == nil {
		return fmt.Errorf("ensemble must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensembles[ens.Name()] = ens.Clone()
	m.ensGen[ens.Name()] = m.tick()
	m.invalidateEnsembleUsers(ens.Name())
	return nil
}

// PutSequence stores a copy of seq.
func (m *Memory) PutSequence(seq *pulse.Sequence) error {
	if seq == nil {
		return fmt.Errorf("sequence must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[seq.Name()] = seq.Clone()
	m.seqGen[seq.Name()] = m.tick()
	return nil
}

// DeleteBlock removes a block.
func (m *Memory) DeleteBlock(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[name]; !ok {
		return fmt.Errorf("block %s: %w", name, ErrNotFound)
	}
	delete(m.blocks, name)
	m.invalidateBlockUsers(name)
	return nil
}

// DeleteEnsemble removes an ensemble.
func (m *Memory) DeleteEnsemble(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ensembles[name]; !ok {
		return fmt.Errorf("ensemble %s: %w", name, ErrNotFound)
	}
	delete(m.ensembles, name)
	delete(m.ensGen, name)
	m.invalidateEnsembleUsers(name)
	return nil
}

// DeleteSequence removes a sequence.
func (m *Memory) DeleteSequence(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sequences[name]; !ok {
		return fmt.Errorf("sequence %s: %w", name, ErrNotFound)
	}
	delete(m.sequences, name)
	delete(m.seqGen, name)
	return nil
}

func (m *Memory) invalidateBlockUsers(block string) {
	for name, ens := range m.ensembles {
		for _, step := range ens.Steps() {
			if step.Block == block {
				ens.SetSamplingInfo(nil)
				ens.SetMeasurementInfo(nil)
				m.ensGen[name] = m.tick()
				m.invalidateEnsembleUsers(name)
				break
			}
		}
	}
}

func (m *Memory) invalidateEnsembleUsers(ensemble string) {
	for name, seq := range m.sequences {
		for _, step := range seq.Steps() {
			if step.Ensemble == ensemble {
				seq.SetSamplingInfo(nil)
				seq.SetMeasurementInfo(nil)
				m.seqGen[name] = m.tick()
				break
			}
		}
	}
}

// Block returns a copy of the named block.
func (m *Memory) Block(name string) (*pulse.Block, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[name]
	return b.Clone(), ok
}

// Ensemble returns a copy of the named ensemble.
func (m *Memory) Ensemble(name string) (*pulse.Ensemble, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.ensembles[name]
	return e.Clone(), ok
}

// Sequence returns a copy of the named sequence.
func (m *Memory) Sequence(name string) (*pulse.Sequence, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sequences[name]
	return s.Clone(), ok
}

// SetEnsembleSamplingInfo records the result of a sampler run computed from
// generation at. The write is refused with ErrStale once the definition has
// moved on.
func (m *Memory) SetEnsembleSamplingInfo(name string, at Generation, info map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ens, ok := m.ensembles[name]
	if !ok {
		return fmt.Errorf("ensemble %s: %w", name, ErrNotFound)
	}
	if current := m.ensGen[name]; current != at {
		return fmt.Errorf("ensemble %s at generation %d, sampled %d: %w", name, current, at, ErrStale)
	}
	ens.SetSamplingInfo(info)
	return nil
}

// SetSequenceSamplingInfo records the result of a sampler run computed from
// generation at.
func (m *Memory) SetSequenceSamplingInfo(name string, at Generation, info map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[name]
	if !ok {
		return fmt.Errorf("sequence %s: %w", name, ErrNotFound)
	}
	if current := m.seqGen[name]; current != at {
		return fmt.Errorf("sequence %s at generation %d, sampled %d: %w", name, current, at, ErrStale)
	}
	seq.SetSamplingInfo(info)
	return nil
}

// Names returns the sorted entity names.
func (m *Memory) Names() Names {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Names{
		Blocks:    sortedKeys(m.blocks),
		Ensembles: sortedKeys(m.ensembles),
		Sequences: sortedKeys(m.sequences),
	}
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot deep copies the store into a library that stays valid while the
// store keeps changing.
func (m *Memory) Snapshot() *pulse.Library {
	lib, _ := m.Capture()
	return lib
}

// Capture is Snapshot plus the generations the copy was taken at.
func (m *Memory) Capture() (*pulse.Library, Generations) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gens := Generations{
		Ensembles: make(map[string]Generation, len(m.ensGen)),
		Sequences: make(map[string]Generation, len(m.seqGen)),
	}
	for name, gen := range m.ensGen {
		gens.Ensembles[name] = gen
	}
	for name, gen := range m.seqGen {
		gens.Sequences[name] = gen
	}
	blocks := make([]*pulse.Block, 0, len(m.blocks))
	for _, b := range m.blocks {
		blocks = append(blocks, b.Clone())
	}
	ensembles := make([]*pulse.Ensemble, 0, len(m.ensembles))
	for _, e := range m.ensembles {
		ensembles = append(ensembles, e.Clone())
	}
	sequences := make([]*pulse.Sequence, 0, len(m.sequences))
	for _, s := range m.sequences {
		sequences = append(sequences, s.Clone())
	}
	return pulse.NewLibrary(blocks, ensembles, sequences), gens
}

// Import replaces the store content with the library's entities.
func (m *Memory) Import(lib *pulse.Library) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = make(map[string]*pulse.Block, len(lib.Blocks))
	for name, b := range lib.Blocks {
		m.blocks[name] = b.Clone()
	}
	m.ensembles = make(map[string]*pulse.Ensemble, len(lib.Ensembles))
	m.ensGen = make(map[string]Generation, len(lib.Ensembles))
	for name, e := range lib.Ensembles {
		m.ensembles[name] = e.Clone()
		m.ensGen[name] = m.tick()
	}
	m.sequences = make(map[string]*pulse.Sequence, len(lib.Sequences))
	m.seqGen = make(map[string]Generation, len(lib.Sequences))
	for name, s := range lib.Sequences {
		m.sequences[name] = s.Clone()
		m.seqGen[name] = m.tick()
	}
}
