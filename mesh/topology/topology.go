// Package topology builds a reusable adjacency index over a triangle mesh.
// The index is built once per mesh and is read-only afterwards, so repeated
// weight computations with different algorithms or bone sets can share it.
// Callers must rebuild it if the mesh geometry changes.
package topology

import (
	"container/heap"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/rigbuilder/mesh"
)

// Index stores vertex adjacency as index arrays into a shared arena:
// neighbors of vertex v are arena[offsets[v]:offsets[v+1]]. No pointer
// graphs, the whole structure is shareable read-only.
type Index struct {
	positions []mgl32.Vec3
	offsets   []int32
	arena     []int32
	edgeCount int
}

// NewIndex builds the adjacency index from the mesh triangle list.
// A mesh whose triangles produce zero edges (degenerate point cloud)
// is an error: distance queries over it would be meaningless.
func NewIndex(m *mesh.Mesh) (*Index, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "Refusing to index invalid mesh")
	}

	vertexCount := m.VertexCount()
	neighborSets := make([]map[int32]struct{}, vertexCount)
	addEdge := func(a, b uint32) {
		if a == b {
			return
		}
		if neighborSets[a] == nil {
			neighborSets[a] = make(map[int32]struct{}, 6)
		}
		neighborSets[a][int32(b)] = struct{}{}
	}

	for t := 0; t < len(m.Triangles); t += 3 {
		i0, i1, i2 := m.Triangles[t], m.Triangles[t+1], m.Triangles[t+2]
		addEdge(i0, i1)
		addEdge(i1, i0)
		addEdge(i1, i2)
		addEdge(i2, i1)
		addEdge(i2, i0)
		addEdge(i0, i2)
	}

	idx := &Index{
		positions: m.Positions,
		offsets:   make([]int32, vertexCount+1),
	}
	for v, set := range neighborSets {
		idx.offsets[v+1] = idx.offsets[v] + int32(len(set))
	}
	idx.arena = make([]int32, idx.offsets[vertexCount])
	for v, set := range neighborSets {
		cursor := idx.offsets[v]
		for n := range set {
			idx.arena[cursor] = n
			cursor++
		}
	}
	idx.edgeCount = len(idx.arena) / 2

	if idx.edgeCount == 0 {
		return nil, errors.Errorf("Mesh has no edges (%v vertices, %v triangles)",
			vertexCount, m.TriangleCount())
	}
	return idx, nil
}

func (idx *Index) VertexCount() int {
	return len(idx.positions)
}

func (idx *Index) EdgeCount() int {
	return idx.edgeCount
}

// Neighbors returns the vertices sharing an edge with v. The returned slice
// aliases the internal arena and must not be modified.
func (idx *Index) Neighbors(v int) []int32 {
	return idx.arena[idx.offsets[v]:idx.offsets[v+1]]
}

func (idx *Index) Position(v int) mgl32.Vec3 {
	return idx.positions[v]
}

// NearestVertex returns the index of the vertex closest to p.
func (idx *Index) NearestVertex(p mgl32.Vec3) int {
	best := 0
	bestDistSq := float32(math.Inf(1))
	for v, pos := range idx.positions {
		d := pos.Sub(p)
		distSq := d.Dot(d)
		if distSq < bestDistSq {
			bestDistSq = distSq
			best = v
		}
	}
	return best
}

type pqItem struct {
	vertex int32
	dist   float32
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// Distances runs single-source Dijkstra from source over the edge graph,
// edges weighted by Euclidean length. Unreachable vertices (other
// connectivity islands, isolated vertices) stay at +Inf.
func (idx *Index) Distances(source int) ([]float32, error) {
	if source < 0 || source >= len(idx.positions) {
		return nil, errors.Errorf("Source vertex %v out of range (%v vertices)", source, len(idx.positions))
	}

	dist := make([]float32, len(idx.positions))
	for i := range dist {
		dist[i] = float32(math.Inf(1))
	}
	dist[source] = 0

	pq := make(priorityQueue, 0, 64)
	heap.Push(&pq, pqItem{vertex: int32(source), dist: 0})

	for pq.Len() > 0 {
		item := heap.Pop(&pq).(pqItem)
		if item.dist > dist[item.vertex] {
			continue // stale entry
		}
		from := idx.positions[item.vertex]
		for _, n := range idx.Neighbors(int(item.vertex)) {
			candidate := item.dist + idx.positions[n].Sub(from).Len()
			if candidate < dist[n] {
				dist[n] = candidate
				heap.Push(&pq, pqItem{vertex: n, dist: candidate})
			}
		}
	}
	return dist, nil
}
