package tracing

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"

	"github.com/openzipkin/zipkin-go/idgenerator"

	"github.com/basvanbeek/tracelink/pkg/traceparent"
)

const golden = 0x9e3779b97f4a7c15

// idGenerator mints random 128 bit trace ids and span ids that never repeat
// within the process: each span id is a bijective mix of a random seed and a
// counter.
type idGenerator struct {
	traces idgenerator.IDGenerator
	seed   uint64
	seq    atomic.Uint64
}

func newIDGenerator() *idGenerator {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return &idGenerator{
		traces: idgenerator.NewRandom128(),
		seed:   binary.BigEndian.Uint64(b[:]),
	}
}

func (g *idGenerator) TraceID() traceparent.TraceID {
	var id traceparent.TraceID
	for !id.IsValid() {
		tid := g.traces.TraceID()
		binary.BigEndian.PutUint64(id[:8], tid.High)
		binary.BigEndian.PutUint64(id[8:], tid.Low)
	}
	return id
}

func (g *idGenerator) SpanID() traceparent.SpanID {
	var id traceparent.SpanID
	for !id.IsValid() {
		binary.BigEndian.PutUint64(id[:], mix(g.seed+g.seq.Add(1)*golden))
	}
	return id
}

// mix is the splitmix64 finalizer; a bijection on uint64.
func mix(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
