package pulse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ChannelKind distinguishes analog from digital output lines.
type ChannelKind uint8

const (
	// Analog lines carry sampled waveform primitives.
	Analog ChannelKind = iota + 1
	// Digital lines carry on/off levels.
	Digital
)

func (k ChannelKind) String() string {
	switch k {
	case Analog:
		return "analog"
	case Digital:
		return "digital"
	default:
		return fmt.Sprintf("ChannelKind(%d)", uint8(k))
	}
}

// ChannelID names a hardware output line. Indices start at 1 to match the
// instrument front panel.
type ChannelID struct {
	Kind  ChannelKind
	Index uint32
}

// AnalogChannel returns the identifier of analog line index.
func AnalogChannel(index uint32) ChannelID {
	return ChannelID{Kind: Analog, Index: index}
}

// DigitalChannel returns the identifier of digital line index.
func DigitalChannel(index uint32) ChannelID {
	return ChannelID{Kind: Digital, Index: index}
}

// String renders the persisted descriptor, e.g. "a_ch1" or "d_ch3".
func (c ChannelID) String() string {
	switch c.Kind {
	case Analog:
		return "a_ch" + strconv.FormatUint(uint64(c.Index), 10)
	case Digital:
		return "d_ch" + strconv.FormatUint(uint64(c.Index), 10)
	default:
		return fmt.Sprintf("ch%d?", c.Index)
	}
}

// ParseChannelID converts a persisted descriptor into a ChannelID. It is only
// meant for the persistence and configuration boundary.
func ParseChannelID(raw string) (ChannelID, error) {
	s := strings.TrimSpace(raw)
	var kind ChannelKind
	switch {
	case strings.HasPrefix(s, "a_ch"):
		kind = Analog
	case strings.HasPrefix(s, "d_ch"):
		kind = Digital
	default:
		return ChannelID{}, fmt.Errorf("invalid channel descriptor %q", raw)
	}
	idx, err := strconv.ParseUint(s[len("a_ch"):], 10, 32)
	if err != nil {
		return ChannelID{}, fmt.Errorf("invalid channel descriptor %q: %w", raw, err)
	}
	if idx == 0 {
		return ChannelID{}, fmt.Errorf("invalid channel descriptor %q: indices start at 1", raw)
	}
	return ChannelID{Kind: kind, Index: uint32(idx)}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c ChannelID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ChannelID) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ChannelID) less(other ChannelID) bool {
	if c.Kind != other.Kind {
		return c.Kind < other.Kind
	}
	return c.Index < other.Index
}

// ChannelSet is a sorted, duplicate free list of channels: analog lines first.
type ChannelSet []ChannelID

// NewChannelSet sorts and deduplicates ids.
func NewChannelSet(ids ...ChannelID) ChannelSet {
	if len(ids) == 0 {
		return ChannelSet{}
	}
	out := make(ChannelSet, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// ParseChannelSet parses a list of persisted descriptors.
func ParseChannelSet(raw []string) (ChannelSet, error) {
	ids := make([]ChannelID, 0, len(raw))
	for _, item := range raw {
		id, err := ParseChannelID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return NewChannelSet(ids...), nil
}

// Equal reports whether both sets contain the same channels.
func (s ChannelSet) Equal(other ChannelSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether id is part of the set.
func (s ChannelSet) Contains(id ChannelID) bool {
	idx := sort.Search(len(s), func(i int) bool { return !s[i].less(id) })
	return idx < len(s) && s[idx] == id
}

// Analog returns the analog members of the set.
func (s ChannelSet) Analog() ChannelSet {
	return s.filter(Analog)
}

// Digital returns the digital members of the set.
func (s ChannelSet) Digital() ChannelSet {
	return s.filter(Digital)
}

func (s ChannelSet) filter(kind ChannelKind) ChannelSet {
	out := make(ChannelSet, 0, len(s))
	for _, id := range s {
		if id.Kind == kind {
			out = append(out, id)
		}
	}
	return out
}

// Strings returns the persisted descriptors in set order.
func (s ChannelSet) Strings() []string {
	out := make([]string, len(s))
	for i, id := range s {
		out[i] = id.String()
	}
	return out
}

func (s ChannelSet) String() string {
	return "{" + strings.Join(s.Strings(), ", ") + "}"
}
