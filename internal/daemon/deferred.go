package daemon

import "github.com/msageha/storebridge/internal/model"

// DeferredSet holds commands waiting for their target player to come online.
// Membership is full-field equality; iteration is insertion order.
type DeferredSet struct {
	order []model.Command
	index map[model.Command]struct{}
}

func NewDeferredSet(cmds ...model.Command) *DeferredSet {
	s := &DeferredSet{index: make(map[model.Command]struct{})}
	for _, c := range cmds {
		s.Add(c)
	}
	return s
}

// Add inserts c and reports whether it was not already present.
func (s *DeferredSet) Add(c model.Command) bool {
	if _, ok := s.index[c]; ok {
		return false
	}
	s.index[c] = struct{}{}
	s.order = append(s.order, c)
	return true
}

func (s *DeferredSet) Contains(c model.Command) bool {
	_, ok := s.index[c]
	return ok
}

func (s *DeferredSet) Remove(c model.Command) bool {
	if _, ok := s.index[c]; !ok {
		return false
	}
	delete(s.index, c)
	for i := range s.order {
		if s.order[i] == c {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *DeferredSet) Len() int {
	return len(s.order)
}

// Members returns a copy in insertion order; callers may mutate the set while ranging over it.
func (s *DeferredSet) Members() []model.Command {
	out := make([]model.Command, len(s.order))
	copy(out, s.order)
	return out
}
