package address

// Set is an insertion-ordered collection of addresses deduplicated by Key.
type Set struct {
	order []Key
	items map[Key]Address
}

func NewSet() *Set {
	return &Set{items: make(map[Key]Address)}
}

// Add inserts a unless an equal address is already present. When the stored
// address has no name, a's name is kept instead. Add reports whether a was new.
func (s *Set) Add(a Address) bool {
	if s.items == nil {
		s.items = make(map[Key]Address)
	}
	key := a.Key()
	existing, ok := s.items[key]
	if !ok {
		s.items[key] = a
		s.order = append(s.order, key)
		return true
	}
	if existing.name == "" && a.name != "" {
		existing.name = a.name
		s.items[key] = existing
	}
	return false
}

func (s *Set) Contains(a Address) bool {
	_, ok := s.items[a.Key()]
	return ok
}

// Get returns the stored address equal to a.
func (s *Set) Get(a Address) (Address, bool) {
	stored, ok := s.items[a.Key()]
	return stored, ok
}

func (s *Set) Len() int {
	return len(s.order)
}

// Addresses returns the stored addresses in insertion order.
func (s *Set) Addresses() []Address {
	out := make([]Address, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.items[key])
	}
	return out
}

// Dedupe returns addrs without duplicates, keeping first occurrences.
func Dedupe(addrs []Address) []Address {
	s := NewSet()
	for _, a := range addrs {
		s.Add(a)
	}
	return s.Addresses()
}
