package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/partyaudio/partyaudio/internal/audio"
)

// OutputID identifies one connected output sink for later removal.
type OutputID uint64

// GraphNode wraps a Node for runtime graph wiring: many output sinks can
// be attached (push fan-out), and a single input source can be attached
// (pull fan-in), mirroring the teacher's fixed-pipeline composition
// generalized to support wiring/unwiring at runtime.
type GraphNode[S audio.Sample] struct {
	node Node[S]

	mu         sync.RWMutex
	outputs    map[OutputID]Sink[S]
	nextOutput atomic.Uint64

	inputMu sync.RWMutex
	input   Source[S]
}

// NewGraphNode wraps node for dynamic graph wiring.
func NewGraphNode[S audio.Sample](node Node[S]) *GraphNode[S] {
	return &GraphNode[S]{node: node, outputs: make(map[OutputID]Sink[S])}
}

// AddOutput connects a sink to receive this node's processed output on
// every Push, returning an id usable with RemoveOutput.
func (g *GraphNode[S]) AddOutput(dest Sink[S]) OutputID {
	id := OutputID(g.nextOutput.Add(1))
	g.mu.Lock()
	g.outputs[id] = dest
	g.mu.Unlock()
	return id
}

// RemoveOutput disconnects a previously added sink.
func (g *GraphNode[S]) RemoveOutput(id OutputID) {
	g.mu.Lock()
	delete(g.outputs, id)
	g.mu.Unlock()
}

// OutputCount reports how many sinks are currently connected.
func (g *GraphNode[S]) OutputCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.outputs)
}

// SetInput connects the source this node pulls from.
func (g *GraphNode[S]) SetInput(source Source[S]) {
	g.inputMu.Lock()
	g.input = source
	g.inputMu.Unlock()
}

// ClearInput disconnects the input source.
func (g *GraphNode[S]) ClearInput() {
	g.inputMu.Lock()
	g.input = nil
	g.inputMu.Unlock()
}

// Push processes input through the wrapped node and forwards any output
// to every connected sink.
func (g *GraphNode[S]) Push(input audio.AudioBuffer[S]) {
	output, ok := g.node.Process(input)
	if !ok {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, dest := range g.outputs {
		dest.Push(output)
	}
}

// Pull fetches from the connected input source, processes through the
// wrapped node, and returns the result.
func (g *GraphNode[S]) Pull(length int) (audio.AudioBuffer[S], bool) {
	g.inputMu.RLock()
	source := g.input
	g.inputMu.RUnlock()
	if source == nil {
		return audio.AudioBuffer[S]{}, false
	}
	input, ok := source.Pull(length)
	if !ok {
		return audio.AudioBuffer[S]{}, false
	}
	return g.node.Process(input)
}
