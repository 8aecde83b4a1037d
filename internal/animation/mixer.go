// Package animation drives avatar clips: a mixer advancing actions and
// their fade weights, and the idle/speaking state machine on top of it.
package animation

// Clip is a named animation with its length in seconds.
type Clip struct {
	Name     string
	Duration float64
}

type LoopMode int

const (
	LoopRepeat LoopMode = iota
	LoopOnce
)

type fade struct {
	from, to float64
	duration float64
	elapsed  float64
}

// Action is the playback state of one clip inside a Mixer.
type Action struct {
	clip    Clip
	loop    LoopMode
	time    float64
	weight  float64
	running bool
	fade    *fade
}

func (a *Action) Clip() Clip { return a.clip }

// Name is shorthand for Clip().Name.
func (a *Action) Name() string { return a.clip.Name }

func (a *Action) SetLoop(mode LoopMode) *Action {
	a.loop = mode
	return a
}

// Play starts the action at its current weight.
func (a *Action) Play() *Action {
	a.running = true
	return a
}

// Stop halts the action and rewinds it.
func (a *Action) Stop() *Action {
	a.running = false
	a.time = 0
	a.fade = nil
	return a
}

// Reset rewinds to the start, restores full weight and cancels any fade.
func (a *Action) Reset() *Action {
	a.time = 0
	a.weight = 1
	a.fade = nil
	return a
}

// FadeIn ramps the weight from 0 to 1 over seconds.
func (a *Action) FadeIn(seconds float64) *Action {
	return a.fadeTo(0, 1, seconds)
}

// FadeOut ramps the weight from its current value to 0 over seconds; the
// action stops when it reaches 0.
func (a *Action) FadeOut(seconds float64) *Action {
	return a.fadeTo(a.weight, 0, seconds)
}

func (a *Action) fadeTo(from, to, seconds float64) *Action {
	if seconds <= 0 {
		a.fade = nil
		a.weight = to
		if to == 0 {
			a.running = false
		}
		return a
	}
	a.weight = from
	a.fade = &fade{from: from, to: to, duration: seconds}
	return a
}

func (a *Action) IsRunning() bool { return a.running }

// Weight is the current effective blend weight.
func (a *Action) Weight() float64 {
	if !a.running {
		return 0
	}
	return a.weight
}

// Time is the playhead in seconds.
func (a *Action) Time() float64 { return a.time }

// Fading reports whether a fade is in progress and towards which weight.
func (a *Action) Fading() (target float64, ok bool) {
	if a.fade == nil {
		return 0, false
	}
	return a.fade.to, true
}

// update advances the action and reports whether a LoopOnce action just
// reached its end.
func (a *Action) update(dt float64) (finished bool) {
	if !a.running {
		return false
	}

	if f := a.fade; f != nil {
		f.elapsed += dt
		if f.elapsed >= f.duration {
			a.weight = f.to
			a.fade = nil
			if a.weight == 0 {
				a.running = false
				return false
			}
		} else {
			a.weight = f.from + (f.to-f.from)*(f.elapsed/f.duration)
		}
	}

	a.time += dt
	d := a.clip.Duration
	if d <= 0 {
		return false
	}
	if a.time < d {
		return false
	}
	if a.loop == LoopOnce {
		a.time = d
		a.running = false
		return true
	}
	for a.time >= d {
		a.time -= d
	}
	return false
}

// Mixer owns one Action per clip name and advances them each frame. It is
// not safe for concurrent use; callers serialize through the event loop.
type Mixer struct {
	actions  map[string]*Action
	order    []*Action
	time     float64
	finished []func(*Action)
}

func NewMixer() *Mixer {
	return &Mixer{actions: make(map[string]*Action)}
}

// ClipAction returns the action for clip, creating it on first use.
func (m *Mixer) ClipAction(c Clip) *Action {
	if a, ok := m.actions[c.Name]; ok {
		return a
	}
	a := &Action{clip: c, weight: 1}
	m.actions[c.Name] = a
	m.order = append(m.order, a)
	return a
}

// Actions returns every action in creation order.
func (m *Mixer) Actions() []*Action {
	return append([]*Action(nil), m.order...)
}

// OnFinished registers a callback for LoopOnce actions reaching their end.
func (m *Mixer) OnFinished(fn func(*Action)) {
	m.finished = append(m.finished, fn)
}

// Update advances every running action by dt seconds.
func (m *Mixer) Update(dt float64) {
	if dt < 0 {
		dt = 0
	}
	m.time += dt

	var done []*Action
	for _, a := range m.order {
		if a.update(dt) {
			done = append(done, a)
		}
	}
	for _, a := range done {
		for _, fn := range m.finished {
			fn(a)
		}
	}
}

// Time is the total time the mixer has advanced.
func (m *Mixer) Time() float64 { return m.time }

func (m *Mixer) StopAll() {
	for _, a := range m.order {
		a.Stop()
	}
}
