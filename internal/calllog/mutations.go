// Package calllog reconciles the system call log and the phone lookups into
// the annotated call log. It owns the per-cycle mutation set, the data source
// lifecycle and the refresh worker that drives it.
package calllog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// PreconditionError reports a row scheduled into two mutually exclusive
// collections of a Mutations. It is a data source bug and aborts the cycle.
type PreconditionError struct {
	Op     string
	ID     int64
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("calllog: %s row %d: %s", e.Op, e.ID, e.Reason)
}

// IsPrecondition reports whether err (or any error in its chain) is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// Mutations is the set of inserts, updates and deletes contributed by every
// data source during one refresh cycle. A row ID appears in at most one of
// the three collections. It is safe for concurrent use by parallel fills.
type Mutations struct {
	mu      sync.Mutex
	inserts map[int64]model.RowValues
	updates map[int64]model.RowValues
	// deletes holds IDs reinterpreted as uint64.
	deletes *roaring64.Bitmap
}

// NewMutations returns an empty mutation set for a new cycle.
func NewMutations() *Mutations {
	return &Mutations{
		inserts: make(map[int64]model.RowValues),
		updates: make(map[int64]model.RowValues),
		deletes: roaring64.New(),
	}
}

// Insert schedules a new row.
func (m *Mutations) Insert(id int64, values model.RowValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkFree("insert", id); err != nil {
		return err
	}
	m.inserts[id] = model.RowValues{}.Merge(values)
	return nil
}

// Update schedules a partial update of an existing row. A second update of
// the same row merges field by field, the later values winning.
func (m *Mutations) Update(id int64, values model.RowValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inserts[id]; ok {
		return &PreconditionError{Op: "update", ID: id, Reason: "already scheduled for insert"}
	}
	if m.deletes.Contains(uint64(id)) {
		return &PreconditionError{Op: "update", ID: id, Reason: "already scheduled for delete"}
	}
	if cur, ok := m.updates[id]; ok {
		m.updates[id] = cur.Merge(values)
		return nil
	}
	m.updates[id] = model.RowValues{}.Merge(values)
	return nil
}

// Delete schedules removal of an existing row.
func (m *Mutations) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkFree("delete", id); err != nil {
		return err
	}
	m.deletes.Add(uint64(id))
	return nil
}

// AmendInsert merges values into a row already scheduled for insert. Data
// sources other than the system call log annotate new rows this way instead
// of competing with a second insert.
func (m *Mutations) AmendInsert(id int64, values model.RowValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.inserts[id]
	if !ok {
		return &PreconditionError{Op: "amend insert", ID: id, Reason: "not scheduled for insert"}
	}
	m.inserts[id] = cur.Merge(values)
	return nil
}

func (m *Mutations) checkFree(op string, id int64) error {
	if _, ok := m.inserts[id]; ok {
		return &PreconditionError{Op: op, ID: id, Reason: "already scheduled for insert"}
	}
	if _, ok := m.updates[id]; ok {
		return &PreconditionError{Op: op, ID: id, Reason: "already scheduled for update"}
	}
	if m.deletes.Contains(uint64(id)) {
		return &PreconditionError{Op: op, ID: id, Reason: "already scheduled for delete"}
	}
	return nil
}

// IsEmpty reports whether nothing has been scheduled.
func (m *Mutations) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserts) == 0 && len(m.updates) == 0 && m.deletes.IsEmpty()
}

// IsPendingInsert reports whether id is scheduled for insert.
func (m *Mutations) IsPendingInsert(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inserts[id]
	return ok
}

// IsPendingDelete reports whether id is scheduled for delete.
func (m *Mutations) IsPendingDelete(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes.Contains(uint64(id))
}

// Inserts returns a snapshot of the pending inserts.
func (m *Mutations) Inserts() map[int64]model.RowValues {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.inserts)
}

// Updates returns a snapshot of the pending updates.
func (m *Mutations) Updates() map[int64]model.RowValues {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.updates)
}

// Deletes returns the pending deletes in ascending order.
func (m *Mutations) Deletes() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw := m.deletes.ToArray()
	ids := make([]int64, len(raw))
	for i, v := range raw {
		ids[i] = int64(v)
	}
	// Negative IDs land above every positive one in the unsigned bitmap.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// InsertIDs returns the IDs scheduled for insert in ascending order.
func (m *Mutations) InsertIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.inserts))
	for id := range m.inserts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counts returns the number of pending inserts, updates and deletes.
func (m *Mutations) Counts() (inserts, updates, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserts), len(m.updates), int(m.deletes.GetCardinality())
}

func cloneRows(in map[int64]model.RowValues) map[int64]model.RowValues {
	out := make(map[int64]model.RowValues, len(in))
	for id, v := range in {
		out[id] = v
	}
	return out
}
