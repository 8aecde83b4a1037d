package lecture

// Captions is the lecture's caption track.
type Captions []Caption

// At returns the first caption with TimeStart <= t < TimeEnd.
func (cs Captions) At(t float64) (Caption, bool) {
	for _, c := range cs {
		if c.TimeStart <= t && t < c.TimeEnd {
			return c, true
		}
	}
	return Caption{}, false
}

// CueTimes converts a segment's relative cue timings to seconds into a track
// of the given duration.
func CueTimes(cues []Cue, duration float64) []float64 {
	out := make([]float64, len(cues))
	for i, c := range cues {
		timing := c.Timing
		if timing < 0 {
			timing = 0
		}
		if timing > 1 {
			timing = 1
		}
		out[i] = timing * duration
	}
	return out
}
