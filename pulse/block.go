package pulse

import "fmt"

// BlockAggregate holds the values derived from a block's element list.
type BlockAggregate struct {
	ChannelSet        ChannelSet
	BaseLengthBins    uint64
	BaseIncrementBins int64
	TickElements      []int
}

// Block is an ordered list of elements sharing one channel set.
type Block struct {
	name     string
	elements []Element
	agg      BlockAggregate
}

// NewBlock builds a block and computes its aggregates.
func NewBlock(name string, elements ...Element) (*Block, error) {
	if name == "" {
		return nil, fmt.Errorf("block name must not be empty")
	}
	b := &Block{name: name, elements: append([]Element(nil), elements...)}
	if err := b.Refresh(); err != nil {
		return nil, err
	}
	return b, nil
}

// Aggregate recomputes the derived values of an element list without
// touching any block.
func Aggregate(name string, elements []Element) (BlockAggregate, error) {
	agg := BlockAggregate{ChannelSet: ChannelSet{}}
	for i, el := range elements {
		if i == 0 {
			agg.ChannelSet = el.ChannelSet()
		} else if !agg.ChannelSet.Equal(el.ChannelSet()) {
			return BlockAggregate{}, &ChannelSetMismatchError{
				Entity: "block " + name,
				Index:  i,
				Want:   agg.ChannelSet,
				Got:    el.ChannelSet(),
			}
		}
		agg.BaseLengthBins += el.LengthBins()
		agg.BaseIncrementBins += el.IncrementBins()
		if el.IsTick() {
			agg.TickElements = append(agg.TickElements, i)
		}
	}
	return agg, nil
}

// Refresh recomputes the aggregates. It is idempotent and fails on the first
// element whose channel set differs from the first element's.
func (b *Block) Refresh() error {
	agg, err := Aggregate(b.name, b.elements)
	if err != nil {
		return err
	}
	b.agg = agg
	return nil
}

// Name returns the block's key in its store.
func (b *Block) Name() string { return b.name }

// Len returns the number of elements.
func (b *Block) Len() int { return len(b.elements) }

// Element returns the element at index i.
func (b *Block) Element(i int) (Element, error) {
	if i < 0 || i >= len(b.elements) {
		return Element{}, fmt.Errorf("block %s element %d: %w", b.name, i, ErrIndexOutOfRange)
	}
	return b.elements[i], nil
}

// Elements returns a copy of the element list.
func (b *Block) Elements() []Element {
	return append([]Element(nil), b.elements...)
}

// Aggregate returns the last successfully computed aggregates.
func (b *Block) Aggregate() BlockAggregate { return b.agg }

// ChannelSet returns the channel set shared by all elements.
func (b *Block) ChannelSet() ChannelSet { return b.agg.ChannelSet }

// BaseLengthBins is the sum of the element lengths of one play.
func (b *Block) BaseLengthBins() uint64 { return b.agg.BaseLengthBins }

// BaseIncrementBins is the sum of the element increments.
func (b *Block) BaseIncrementBins() int64 { return b.agg.BaseIncrementBins }

// Append inserts an element at the end, or at the front when atFront is set.
// The block is left unchanged if the new element breaks the channel set.
func (b *Block) Append(el Element, atFront bool) error {
	next := make([]Element, 0, len(b.elements)+1)
	if atFront {
		next = append(next, el)
		next = append(next, b.elements...)
	} else {
		next = append(next, b.elements...)
		next = append(next, el)
	}
	return b.apply(next)
}

// Replace swaps the element at index i.
func (b *Block) Replace(i int, el Element) error {
	if i < 0 || i >= len(b.elements) {
		return fmt.Errorf("block %s replace %d: %w", b.name, i, ErrIndexOutOfRange)
	}
	next := append([]Element(nil), b.elements...)
	next[i] = el
	return b.apply(next)
}

// Delete removes the element at index i.
func (b *Block) Delete(i int) error {
	if i < 0 || i >= len(b.elements) {
		return fmt.Errorf("block %s delete %d: %w", b.name, i, ErrIndexOutOfRange)
	}
	next := make([]Element, 0, len(b.elements)-1)
	next = append(next, b.elements[:i]...)
	next = append(next, b.elements[i+1:]...)
	return b.apply(next)
}

func (b *Block) apply(next []Element) error {
	agg, err := Aggregate(b.name, next)
	if err != nil {
		return err
	}
	b.elements = next
	b.agg = agg
	return nil
}

// Rename returns a copy of the block stored under a new name.
func (b *Block) Rename(name string) (*Block, error) {
	return NewBlock(name, b.elements...)
}

// Clone returns an independent copy.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	agg := b.agg
	agg.TickElements = append([]int(nil), b.agg.TickElements...)
	return &Block{name: b.name, elements: b.Elements(), agg: agg}
}

// Equal compares name and elements.
func (b *Block) Equal(other *Block) bool {
	if b == nil || other == nil {
		return b == other
	}
	if b.name != other.name || len(b.elements) != len(other.elements) {
		return false
	}
	for i := range b.elements {
		if !b.elements[i].Equal(other.elements[i]) {
			return false
		}
	}
	return true
}
