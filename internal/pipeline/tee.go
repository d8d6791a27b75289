package pipeline

import "github.com/partyaudio/partyaudio/internal/audio"

// Tee pushes every input to two sinks unchanged, letting one push
// pipeline feed two downstream consumers (e.g. network send + local
// playback monitor).
type Tee[S audio.Sample] struct {
	A, B Sink[S]
}

// NewTee builds a Tee forwarding to both a and b.
func NewTee[S audio.Sample](a, b Sink[S]) *Tee[S] {
	return &Tee[S]{A: a, B: b}
}

func (t *Tee[S]) Push(input audio.AudioBuffer[S]) {
	t.A.Push(input)
	t.B.Push(input)
}
