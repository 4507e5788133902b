package registry

import (
	"context"
	"sync"
)

var _ Registry = (*Static)(nil)

// Static keeps instances in memory. It serves fixed instance lists from
// configuration and in-process providers.
type Static struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
	subs      map[string][]chan Event
	closed    bool
}

func NewStatic(instances ...ServiceInstance) *Static {
	s := &Static{
		instances: make(map[string][]ServiceInstance),
		subs:      make(map[string][]chan Event),
	}
	for _, inst := range instances {
		s.instances[inst.ServiceName] = append(s.instances[inst.ServiceName], inst)
	}
	return s
}

func (s *Static) Register(_ context.Context, inst ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[inst.ServiceName]
	for i, old := range list {
		if old.ID() == inst.ID() {
			list[i] = inst
			s.notify(inst.ServiceName, Event{Type: EventTypeAdd, Instance: inst})
			return nil
		}
	}
	s.instances[inst.ServiceName] = append(list, inst)
	s.notify(inst.ServiceName, Event{Type: EventTypeAdd, Instance: inst})
	return nil
}

func (s *Static) UnRegister(_ context.Context, inst ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[inst.ServiceName]
	for i, old := range list {
		if old.ID() == inst.ID() {
			s.instances[inst.ServiceName] = append(list[:i:i], list[i+1:]...)
			s.notify(inst.ServiceName, Event{Type: EventTypeDelete, Instance: old})
			return nil
		}
	}
	return nil
}

func (s *Static) ListServices(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.instances[serviceName]
	res := make([]ServiceInstance, len(list))
	copy(res, list)
	return res, nil
}

func (s *Static) Subscribe(serviceName string) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 16)
	if s.closed {
		close(ch)
		return ch, nil
	}
	s.subs[serviceName] = append(s.subs[serviceName], ch)
	return ch, nil
}

// notify must be called with mu held. Slow subscribers miss events.
func (s *Static) notify(serviceName string, e Event) {
	for _, ch := range s.subs[serviceName] {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, chs := range s.subs {
		for _, ch := range chs {
			close(ch)
		}
	}
	s.subs = nil
	return nil
}
