// Package pipeline provides small composable audio-processing stages
// (Source/Sink/Node) and a GraphNode wrapper for wiring them at runtime.
package pipeline

import "github.com/partyaudio/partyaudio/internal/audio"

// Node transforms one audio buffer into another. A false second return
// value means the node buffered or dropped the input and has nothing to
// emit yet (e.g. a batcher still accumulating).
type Node[S audio.Sample] interface {
	Process(input audio.AudioBuffer[S]) (audio.AudioBuffer[S], bool)
}

// Source produces data on demand.
type Source[S audio.Sample] interface {
	Pull(length int) (audio.AudioBuffer[S], bool)
}

// Sink consumes pushed data.
type Sink[S audio.Sample] interface {
	Push(input audio.AudioBuffer[S])
}

// NodeFunc adapts a plain function to Node.
type NodeFunc[S audio.Sample] func(audio.AudioBuffer[S]) (audio.AudioBuffer[S], bool)

func (f NodeFunc[S]) Process(input audio.AudioBuffer[S]) (audio.AudioBuffer[S], bool) {
	return f(input)
}
