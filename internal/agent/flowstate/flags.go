// Package flowstate holds conversation-scoped branch flags. Flags are set
// explicitly by upstream logic and never inferred from text.
package flowstate

import (
	"encoding/json"
	"sort"
)

// Well-known branch flags.
const (
	FlagResidential   = "residential"
	FlagCommercial    = "commercial"
	FlagTransfer      = "transfer"
	FlagAfterHours    = "afterHours"
	FlagBookingIntent = "bookingIntent"
)

// FlagSet is an immutable set of named boolean flags. The zero value is an
// empty set.
type FlagSet struct {
	flags map[string]bool
}

// NewFlagSet copies m.
func NewFlagSet(m map[string]bool) FlagSet {
	if len(m) == 0 {
		return FlagSet{}
	}
	cp := make(map[string]bool, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return FlagSet{flags: cp}
}

// Apply returns a new set with name set to value. The receiver is unchanged.
func (s FlagSet) Apply(name string, value bool) FlagSet {
	cp := make(map[string]bool, len(s.flags)+1)
	for k, v := range s.flags {
		cp[k] = v
	}
	cp[name] = value
	return FlagSet{flags: cp}
}

// Merge returns a new set where entries of other win.
func (s FlagSet) Merge(other map[string]bool) FlagSet {
	if len(other) == 0 {
		return s
	}
	cp := make(map[string]bool, len(s.flags)+len(other))
	for k, v := range s.flags {
		cp[k] = v
	}
	for k, v := range other {
		cp[k] = v
	}
	return FlagSet{flags: cp}
}

// Without returns a new set lacking name.
func (s FlagSet) Without(name string) FlagSet {
	if _, ok := s.flags[name]; !ok {
		return s
	}
	cp := make(map[string]bool, len(s.flags))
	for k, v := range s.flags {
		if k != name {
			cp[k] = v
		}
	}
	return FlagSet{flags: cp}
}

// Get reads a flag; a missing flag is false.
func (s FlagSet) Get(name string) bool {
	return s.flags[name]
}

func (s FlagSet) Len() int {
	return len(s.flags)
}

// Map returns a copy suitable for predicate evaluation.
func (s FlagSet) Map() map[string]bool {
	cp := make(map[string]bool, len(s.flags))
	for k, v := range s.flags {
		cp[k] = v
	}
	return cp
}

// True lists the names of true flags, sorted.
func (s FlagSet) True() []string {
	var out []string
	for k, v := range s.flags {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s FlagSet) MarshalJSON() ([]byte, error) {
	if s.flags == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.flags)
}

func (s *FlagSet) UnmarshalJSON(data []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*s = NewFlagSet(m)
	return nil
}
