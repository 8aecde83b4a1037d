package animation

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/lecture3d/internal/metrics"
)

var (
	ErrNoClips     = errors.New("no animation clips")
	ErrUnknownClip = errors.New("unknown animation clip")
)

type State int

const (
	StateIdle State = iota
	StateSpeaking
)

func (s State) String() string {
	if s == StateSpeaking {
		return "speaking"
	}
	return "idle"
}

func (s State) role() Role {
	if s == StateSpeaking {
		return RoleSpeaking
	}
	return RoleIdle
}

type Options struct {
	CrossFade time.Duration
	Roles     map[string]string
}

// StateMachine switches the avatar between its idle and speaking clips
// with cross-fades. Transitions are keyed by clip name, so repeating the
// current state is a no-op.
type StateMachine struct {
	mixer     *Mixer
	clips     *ClipSet
	crossFade float64
	explicit  map[string]string
	log       zerolog.Logger

	res      Resolution
	started  bool
	state    State
	active   string
	cue      string
	onChange func(clip string, state State)
}

func NewStateMachine(mixer *Mixer, clips *ClipSet, opts Options, log zerolog.Logger) *StateMachine {
	m := &StateMachine{
		mixer:     mixer,
		clips:     clips,
		crossFade: opts.CrossFade.Seconds(),
		explicit:  opts.Roles,
		log:       log,
	}
	mixer.OnFinished(m.onActionFinished)
	return m
}

// OnChange is called after every cross-fade with the new active clip.
func (m *StateMachine) OnChange(fn func(clip string, state State)) {
	m.onChange = fn
}

// Start resolves roles against the registered clips and plays the idle
// clip at full weight. A speaking request made before Start is applied
// right after.
func (m *StateMachine) Start() error {
	names := m.clips.Names()
	m.res = ResolveRoles(names, m.explicit)
	for _, w := range m.res.Warnings {
		m.log.Warn().Str("role", string(w.Role)).Strs("clips", names).Msg(w.Message)
	}
	if len(names) == 0 {
		return ErrNoClips
	}

	idle, _ := m.res.Clip(RoleIdle)
	a, _ := m.clips.Get(idle)
	a.SetLoop(LoopRepeat).Reset().Play()
	m.active = idle
	m.started = true

	m.log.Info().
		Str("idle", idle).
		Str("speaking", m.res.Clips[RoleSpeaking]).
		Msg("avatar animation started")

	if m.state == StateSpeaking {
		m.transition(m.roleClip(StateSpeaking))
	}
	return nil
}

// SetSpeaking moves to Speaking or Idle and reports whether a cross-fade
// was issued.
func (m *StateMachine) SetSpeaking(speaking bool) bool {
	next := StateIdle
	if speaking {
		next = StateSpeaking
	}
	prev := m.state
	m.state = next
	if !m.started {
		return false
	}
	if prev == next && m.cue != "" {
		// the cue returns to this state's clip when it ends
		return false
	}

	target := m.roleClip(next)
	if target == m.active {
		return false
	}
	m.cue = ""
	m.transition(target)
	return true
}

// Cue plays name once, then returns to the clip of the current state.
func (m *StateMachine) Cue(name string) error {
	if !m.started {
		return ErrNoClips
	}
	a, ok := m.clips.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownClip, name)
	}
	m.cue = name
	m.fadeTo(a, LoopOnce)
	return nil
}

func (m *StateMachine) onActionFinished(a *Action) {
	if m.cue == "" || a.Name() != m.cue {
		return
	}
	m.cue = ""
	m.transition(m.roleClip(m.state))
}

func (m *StateMachine) roleClip(s State) string {
	name, _ := m.res.Clip(s.role())
	return name
}

func (m *StateMachine) transition(name string) {
	a, ok := m.clips.Get(name)
	if !ok {
		return
	}
	m.fadeTo(a, LoopRepeat)
}

// fadeTo fades out every running action and fades target in from the start.
func (m *StateMachine) fadeTo(target *Action, loop LoopMode) {
	for _, a := range m.clips.Running() {
		if a != target {
			a.FadeOut(m.crossFade)
		}
	}
	target.SetLoop(loop).Reset().FadeIn(m.crossFade).Play()
	m.active = target.Name()
	metrics.CrossFades.WithLabelValues(target.Name()).Inc()

	m.log.Debug().
		Str("clip", target.Name()).
		Str("state", m.state.String()).
		Float64("fade", m.crossFade).
		Msg("cross-fade")
	if m.onChange != nil {
		m.onChange(target.Name(), m.state)
	}
}

func (m *StateMachine) State() State { return m.state }

// Active is the clip most recently faded in.
func (m *StateMachine) Active() string { return m.active }

func (m *StateMachine) Started() bool { return m.started }

func (m *StateMachine) Resolution() Resolution { return m.res }
