package reputation

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type snapshotKey struct {
	user common.Address
	at   uint64
}

// MemoryStore is an in-memory Store for development, demo mode and tests.
// Every commit happens under one mutex, so each ApplyActivity is atomic
// with respect to all readers.
type MemoryStore struct {
	mu         sync.RWMutex
	profiles   map[common.Address]*Profile
	activities map[uint64]*ActivityRecord
	byUser     map[common.Address][]uint64
	snapshots  map[snapshotKey]*Snapshot
	order      []common.Address // registration order
	nextID     uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:   make(map[common.Address]*Profile),
		activities: make(map[uint64]*ActivityRecord),
		byUser:     make(map[common.Address][]uint64),
		snapshots:  make(map[snapshotKey]*Snapshot),
	}
}

func (m *MemoryStore) CreateProfile(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.User]; ok {
		return ErrAlreadyExists
	}
	cp := *p
	m.profiles[p.User] = &cp
	m.order = append(m.order, p.User)
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, user common.Address) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[user]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListUsers(_ context.Context, limit int) ([]common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]common.Address, n)
	copy(out, m.order[:n])
	return out, nil
}

func (m *MemoryStore) ApplyActivity(_ context.Context, user common.Address, fn ApplyFunc) (*Profile, *ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.profiles[user]
	if !ok {
		return nil, nil, ErrUserNotFound
	}

	// fn works on a copy so a failure leaves the stored profile untouched.
	next := *cur
	rec, err := fn(&next)
	if err != nil {
		return nil, nil, err
	}

	rec.ID = m.nextID
	rec.User = user
	stored := *rec
	m.activities[rec.ID] = &stored
	m.byUser[user] = append(m.byUser[user], rec.ID)
	m.nextID++
	m.profiles[user] = &next

	out := next
	outRec := stored
	return &out, &outRec, nil
}

func (m *MemoryStore) GetActivity(_ context.Context, user common.Address, id uint64) (*ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.activities[id]
	if !ok || rec.User != user {
		return nil, ErrActivityNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ListActivities(_ context.Context, user common.Address, limit int) ([]*ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byUser[user]
	out := make([]*ActivityRecord, 0, min(len(ids), max(limit, 0)))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *m.activities[ids[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *snap
	m.snapshots[snapshotKey{user: snap.User, at: snap.Timestamp}] = &cp
	return nil
}

func (m *MemoryStore) GetSnapshot(_ context.Context, user common.Address, at uint64) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[snapshotKey{user: user, at: at}]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) QuerySnapshots(_ context.Context, q HistoryQuery) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Snapshot
	for k, s := range m.snapshots {
		if k.user != q.User {
			continue
		}
		if q.From != 0 && s.Timestamp < q.From {
			continue
		}
		if q.To != 0 && s.Timestamp > q.To {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &Stats{
		TotalUsers:      uint64(len(m.profiles)),
		TotalActivities: m.nextID,
	}, nil
}

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)
