package creature

import "errors"

var ErrDuplicate = errors.New("instance already registered")

// ActiveSet maps instance id to live instance in insertion order.
// Capacity is advisory: callers check Full before spawning.
type ActiveSet struct {
	capacity int
	order    []string
	byID     map[string]*Instance
}

func NewActiveSet(capacity int) *ActiveSet {
	return &ActiveSet{capacity: capacity, byID: map[string]*Instance{}}
}

func (s *ActiveSet) Add(inst *Instance) error {
	if _, ok := s.byID[inst.ID]; ok {
		return ErrDuplicate
	}
	s.byID[inst.ID] = inst
	s.order = append(s.order, inst.ID)
	return nil
}

func (s *ActiveSet) Remove(id string) (*Instance, bool) {
	inst, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return inst, true
}

func (s *ActiveSet) Get(id string) (*Instance, bool) {
	inst, ok := s.byID[id]
	return inst, ok
}

func (s *ActiveSet) Contains(inst *Instance) bool {
	if inst == nil {
		return false
	}
	cur, ok := s.byID[inst.ID]
	return ok && cur == inst
}

func (s *ActiveSet) Len() int      { return len(s.order) }
func (s *ActiveSet) Capacity() int { return s.capacity }

func (s *ActiveSet) Full() bool {
	return s.capacity > 0 && len(s.order) >= s.capacity
}

// Snapshot returns the instances in insertion order. The slice is a copy, so
// callers may add or remove entries while ranging over it.
func (s *ActiveSet) Snapshot() []*Instance {
	out := make([]*Instance, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
