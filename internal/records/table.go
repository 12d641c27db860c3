package records

import (
	"sync"
	"time"
)

type rowMeta struct {
	sourceID  string
	content   string
	model     string
	updatedAt time.Time
}

// table is the arena for one dimension. Row i occupies
// data[i*dim : (i+1)*dim]; deletes swap the last row into the hole.
type table struct {
	mu        sync.RWMutex
	dim       int
	ids       []string
	data      []float32
	meta      []rowMeta
	pos       map[string]int
	lastModel string
}

func newTable(dim int) *table {
	return &table{
		dim: dim,
		pos: make(map[string]int),
	}
}

func (t *table) row(i int) []float32 {
	return t.data[i*t.dim : (i+1)*t.dim]
}

// put must be called with t.mu held for writing
func (t *table) put(id string, vec []float32, m rowMeta) {
	if i, ok := t.pos[id]; ok {
		copy(t.row(i), vec)
		t.meta[i] = m
	} else {
		t.pos[id] = len(t.ids)
		t.ids = append(t.ids, id)
		t.data = append(t.data, vec...)
		t.meta = append(t.meta, m)
	}
	if m.model != "" {
		t.lastModel = m.model
	}
}

// remove must be called with t.mu held for writing
func (t *table) remove(id string) bool {
	i, ok := t.pos[id]
	if !ok {
		return false
	}

	last := len(t.ids) - 1
	if i != last {
		copy(t.row(i), t.row(last))
		t.ids[i] = t.ids[last]
		t.meta[i] = t.meta[last]
		t.pos[t.ids[i]] = i
	}

	t.ids[last] = ""
	t.meta[last] = rowMeta{}
	t.ids = t.ids[:last]
	t.meta = t.meta[:last]
	t.data = t.data[:last*t.dim]
	delete(t.pos, id)

	return true
}
