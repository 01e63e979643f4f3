package gdb

import (
	"path"
	"sort"
	"sync"
)

// MemDriver is an in-memory reference Driver implementation, used by tests
// and the CLI's local-only mode. TransactionStart snapshots every group and
// TransactionEnd(false) restores that snapshot; TransactionEnd(true) keeps
// the changes made since the start.
type MemDriver struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Object // group -> key -> object
	nextID uint64

	inTx    bool
	txBack  map[string]map[string]*Object
}

// NewMemDriver builds an empty in-memory driver.
func NewMemDriver() *MemDriver {
	return &MemDriver{groups: make(map[string]map[string]*Object)}
}

func (m *MemDriver) ApplyStoreObj(obj *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[obj.Group]
	if !ok {
		g = make(map[string]*Object)
		m.groups[obj.Group] = g
	}
	if obj.Flags&FlagErase != 0 {
		if _, ok := g[obj.Key]; !ok {
			return ErrNotFound
		}
		delete(g, obj.Key)
		return nil
	}
	cp := obj.Copy()
	if cp.ID == 0 {
		m.nextID++
		cp.ID = m.nextID
	}
	g[obj.Key] = cp
	return nil
}

func (m *MemDriver) ReadStoreObj(group string, key *string, countInOut *int, withHoles bool) ([]*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[group]
	if !ok {
		return nil, nil
	}
	if key != nil {
		if o, ok := g[*key]; ok {
			return []*Object{o.Copy()}, nil
		}
		return nil, nil
	}
	out := sortedObjects(g)
	if countInOut != nil && *countInOut > 0 && len(out) > *countInOut {
		out = out[:*countInOut]
	}
	if countInOut != nil {
		*countInOut = len(out)
	}
	return out, nil
}

func (m *MemDriver) ReadLastStoreObj(group string, withHoles bool) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[group]
	if !ok || len(g) == 0 {
		return nil, nil
	}
	objs := sortedObjects(g)
	last := objs[len(objs)-1]
	return last, nil
}

func (m *MemDriver) ReadCondStoreObj(group string, hashFrom [16]byte, countInOut *int, withHoles bool) ([]*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[group]
	if !ok {
		return nil, nil
	}
	var out []*Object
	for _, o := range sortedObjects(g) {
		if greaterHash(o.DriverHash(), hashFrom) {
			out = append(out, o)
		}
	}
	if countInOut != nil && *countInOut > 0 && len(out) > *countInOut {
		out = out[:*countInOut]
	}
	if countInOut != nil {
		*countInOut = len(out)
	}
	return out, nil
}

func (m *MemDriver) ReadCountStore(group string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups[group]), nil
}

func (m *MemDriver) ReadHashes(group string, hashFrom [16]byte) ([][16]byte, error) {
	objs, err := m.ReadCondStoreObj(group, hashFrom, nil, true)
	if err != nil {
		return nil, err
	}
	out := make([][16]byte, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.DriverHash())
	}
	return out, nil
}

func (m *MemDriver) ReadStoreObjByTimestamp(group string, ts int64, countOut *int) ([]*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[group]
	if !ok {
		return nil, nil
	}
	var out []*Object
	for _, o := range sortedObjects(g) {
		if o.Timestamp.UnixNano() < ts {
			out = append(out, o)
		}
	}
	if countOut != nil {
		*countOut = len(out)
	}
	return out, nil
}

func (m *MemDriver) IsObj(group, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[group]
	if !ok {
		return false, nil
	}
	_, ok = g[key]
	return ok, nil
}

func (m *MemDriver) IsHash(group string, hash [16]byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[group]
	if !ok {
		return false, nil
	}
	for _, o := range g {
		if o.DriverHash() == hash {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemDriver) GetByHash(group string, hashes [][16]byte) ([]*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[group]
	if !ok {
		return nil, nil
	}
	want := make(map[[16]byte]bool, len(hashes))
	for _, h := range hashes {
		want[h] = true
	}
	var out []*Object
	for _, o := range g {
		if want[o.DriverHash()] {
			out = append(out, o.Copy())
		}
	}
	return out, nil
}

func (m *MemDriver) GetGroupsByMask(mask string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name := range m.groups {
		if ok, err := path.Match(mask, name); err == nil && ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemDriver) TransactionStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inTx {
		return nil
	}
	m.inTx = true
	m.txBack = snapshot(m.groups)
	return nil
}

func (m *MemDriver) TransactionEnd(commit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inTx {
		return nil
	}
	if !commit {
		m.groups = m.txBack
	}
	m.inTx = false
	m.txBack = nil
	return nil
}

func (m *MemDriver) Flush() error { return nil }
func (m *MemDriver) Deinit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = make(map[string]map[string]*Object)
	return nil
}

func sortedObjects(g map[string]*Object) []*Object {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Object, 0, len(keys))
	for _, k := range keys {
		out = append(out, g[k].Copy())
	}
	return out
}

func snapshot(groups map[string]map[string]*Object) map[string]map[string]*Object {
	out := make(map[string]map[string]*Object, len(groups))
	for gname, g := range groups {
		cp := make(map[string]*Object, len(g))
		for k, o := range g {
			cp[k] = o.Copy()
		}
		out[gname] = cp
	}
	return out
}

func greaterHash(a, b [16]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}
