package animation

import "errors"

var ErrClipsRegistered = errors.New("clip set already registered")

// ClipSet maps clip names to their actions. It is filled once, when the
// avatar loads, and never shrinks.
type ClipSet struct {
	actions    map[string]*Action
	names      []string
	registered bool
}

func NewClipSet() *ClipSet {
	return &ClipSet{actions: make(map[string]*Action)}
}

// Register creates an action per clip on mixer. A second call fails with
// ErrClipsRegistered. Duplicate names keep the first clip.
func (s *ClipSet) Register(mixer *Mixer, clips []Clip) error {
	if s.registered {
		return ErrClipsRegistered
	}
	s.registered = true
	for _, c := range clips {
		if _, dup := s.actions[c.Name]; dup {
			continue
		}
		s.actions[c.Name] = mixer.ClipAction(c)
		s.names = append(s.names, c.Name)
	}
	return nil
}

func (s *ClipSet) Registered() bool { return s.registered }

func (s *ClipSet) Get(name string) (*Action, bool) {
	a, ok := s.actions[name]
	return a, ok
}

// Names returns clip names in registration order.
func (s *ClipSet) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *ClipSet) Len() int { return len(s.names) }

// Running returns the actions that are currently playing.
func (s *ClipSet) Running() []*Action {
	var out []*Action
	for _, n := range s.names {
		if a := s.actions[n]; a.IsRunning() {
			out = append(out, a)
		}
	}
	return out
}
