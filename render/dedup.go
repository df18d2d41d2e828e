package render

import (
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	vertexShardBits = 6
	vertexShards    = 1 << vertexShardBits
)

type vertexRecord struct {
	index int32
	pos   r3.Vec
}

type vertexShard struct {
	mu sync.Mutex
	m  map[uint64]vertexRecord
	_  [40]byte // keep neighbouring shard locks off the same cache line.
}

// vertexTable hands out a unique vertex index per crossed lattice edge.
// It is safe for concurrent use. The first goroutine to request an edge
// computes its position, later requests for the same edge receive the
// same index. Indices are dense starting at zero.
type vertexTable struct {
	shards [vertexShards]vertexShard
	count  atomic.Int32
	max    int32
}

// newVertexTable returns a table that refuses to hand out more than maxVerts
// indices. maxVerts<=0 means no limit other than the range of int32.
func newVertexTable(maxVerts int) *vertexTable {
	t := &vertexTable{max: math.MaxInt32}
	if maxVerts > 0 && maxVerts < math.MaxInt32 {
		t.max = int32(maxVerts)
	}
	for i := range t.shards {
		t.shards[i].m = make(map[uint64]vertexRecord)
	}
	return t
}

func (t *vertexTable) shard(key uint64) *vertexShard {
	return &t.shards[(key*0x9E3779B97F4A7C15)>>(64-vertexShardBits)]
}

// getOrCreate returns the index of the vertex on the edge identified by key.
// If the edge has no vertex yet pos is called to place it.
func (t *vertexTable) getOrCreate(key uint64, pos func() r3.Vec) (int32, error) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.m[key]; ok {
		return rec.index, nil
	}
	if t.count.Load() >= t.max {
		return -1, ErrTooManyVertices
	}
	idx := t.count.Add(1) - 1
	if idx >= t.max {
		// Lost the race for the last index.
		t.count.Add(-1)
		return -1, ErrTooManyVertices
	}
	s.m[key] = vertexRecord{index: idx, pos: pos()}
	return idx, nil
}

// len returns the number of vertices created.
func (t *vertexTable) len() int { return int(t.count.Load()) }

// positions returns vertex positions ordered by index.
// It must not be called concurrently with getOrCreate.
func (t *vertexTable) positions() []r3.Vec {
	verts := make([]r3.Vec, t.len())
	for i := range t.shards {
		for _, rec := range t.shards[i].m {
			verts[rec.index] = rec.pos
		}
	}
	return verts
}
