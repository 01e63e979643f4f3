// Package cluster implements the process-wide directory of named peer
// groups (clusters) and per-member state, with at-most-one membership
// entry per address per cluster.
package cluster

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"

	"corenet/pkg/nodeaddr"
)

// Role classifies how a cluster participates in link lifecycle decisions.
type Role int

const (
	RoleEnabled Role = iota
	RoleDisabled
	RoleAutonomic
	RoleEmbedded
)

// Status is the cluster's own lifecycle state, independent of member
// connectivity.
type Status int

const (
	StatusActive Status = iota
	StatusPaused
)

// Member is one peer's membership record within a Cluster.
type Member struct {
	Addr nodeaddr.Address
	Role Role
	Info any
}

// Cluster is a named (or anonymous) peer group with its own membership
// table and callbacks, guarded by its own lock so cross-cluster operations
// never need to hold more than one cluster lock at a time.
type Cluster struct {
	GUUID    nodeaddr.GUUID
	Mnemonic string
	Role     Role
	Status   Status

	OnMemberAdd    func(*Member)
	OnMemberDelete func(*Member)

	mu      sync.RWMutex
	members map[nodeaddr.Address]*Member
}

// ErrMnemonicTaken is returned by Registry.New when the requested mnemonic
// is already registered.
var ErrMnemonicTaken = errors.New("cluster: mnemonic already taken")

// ErrGUUIDTaken is returned by Registry.New when the requested GUUID is
// already registered.
var ErrGUUIDTaken = errors.New("cluster: guuid already taken")

// ErrDuplicateMember is returned by MemberAdd when addr is already present.
var ErrDuplicateMember = errors.New("cluster: duplicate member")

// Registry is the process-wide cluster directory, indexed by GUUID and by
// mnemonic. Concurrency order: the registry lock is always taken before
// any single cluster's lock, and at most one cluster lock is held at a
// time — never nested.
type Registry struct {
	mu        sync.RWMutex
	byGUUID   map[nodeaddr.GUUID]*Cluster
	byMnemonic map[string]*Cluster
	log       *logrus.Logger
}

// NewRegistry builds an empty cluster registry.
func NewRegistry(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		byGUUID:    make(map[nodeaddr.GUUID]*Cluster),
		byMnemonic: make(map[string]*Cluster),
		log:        log,
	}
}

// New creates and registers a cluster. mnemonic may be empty (anonymous
// cluster, indexed only by GUUID).
func (r *Registry) New(mnemonic string, guuid nodeaddr.GUUID, role Role) (*Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byGUUID[guuid]; exists {
		return nil, ErrGUUIDTaken
	}
	if mnemonic != "" {
		if _, exists := r.byMnemonic[mnemonic]; exists {
			return nil, ErrMnemonicTaken
		}
	}
	c := &Cluster{
		GUUID:    guuid,
		Mnemonic: mnemonic,
		Role:     role,
		Status:   StatusActive,
		members:  make(map[nodeaddr.Address]*Member),
	}
	r.byGUUID[guuid] = c
	if mnemonic != "" {
		r.byMnemonic[mnemonic] = c
	}
	return c, nil
}

// Get looks up a cluster by GUUID.
func (r *Registry) Get(guuid nodeaddr.GUUID) (*Cluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byGUUID[guuid]
	return c, ok
}

// GetByMnemonic looks up a cluster by mnemonic.
func (r *Registry) GetByMnemonic(mnemonic string) (*Cluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byMnemonic[mnemonic]
	return c, ok
}

// Delete removes a cluster from the registry entirely.
func (r *Registry) Delete(guuid nodeaddr.GUUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byGUUID[guuid]; ok {
		if c.Mnemonic != "" {
			delete(r.byMnemonic, c.Mnemonic)
		}
		delete(r.byGUUID, guuid)
	}
}

// All returns a snapshot of every registered cluster, used by Broadcast's
// nil-cluster ("all streams") fan-out.
func (r *Registry) All() []*Cluster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Cluster, 0, len(r.byGUUID))
	for _, c := range r.byGUUID {
		out = append(out, c)
	}
	return out
}

// AutonomicOrEmbedded returns every registered cluster whose role is
// Autonomic or Embedded, for LinkDeleteFromAll.
func (r *Registry) AutonomicOrEmbedded() []*Cluster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Cluster
	for _, c := range r.byGUUID {
		if c.Role == RoleAutonomic || c.Role == RoleEmbedded {
			out = append(out, c)
		}
	}
	return out
}

// MemberAdd inserts addr into c. Duplicate addresses are rejected with a
// logged warning, not a loud error, matching the policy-error convention.
func (c *Cluster) MemberAdd(addr nodeaddr.Address, role Role, info any, log *logrus.Logger) error {
	c.mu.Lock()
	if _, exists := c.members[addr]; exists {
		c.mu.Unlock()
		if log != nil {
			log.Warnf("cluster %s: duplicate member add for %s, ignored", c.GUUID, addr)
		}
		return ErrDuplicateMember
	}
	m := &Member{Addr: addr, Role: role, Info: info}
	c.members[addr] = m
	c.mu.Unlock()

	if c.OnMemberAdd != nil {
		c.OnMemberAdd(m)
	}
	return nil
}

// MemberDelete removes addr from c, if present.
func (c *Cluster) MemberDelete(addr nodeaddr.Address) {
	c.mu.Lock()
	m, ok := c.members[addr]
	if ok {
		delete(c.members, addr)
	}
	c.mu.Unlock()
	if ok && c.OnMemberDelete != nil {
		c.OnMemberDelete(m)
	}
}

// MemberFind looks up a member by address.
func (c *Cluster) MemberFind(addr nodeaddr.Address) (*Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[addr]
	return m, ok
}

// DeleteAllMembers clears every membership in c, invoking OnMemberDelete
// for each.
func (c *Cluster) DeleteAllMembers() {
	c.mu.Lock()
	all := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		all = append(all, m)
	}
	c.members = make(map[nodeaddr.Address]*Member)
	c.mu.Unlock()
	if c.OnMemberDelete != nil {
		for _, m := range all {
			c.OnMemberDelete(m)
		}
	}
}

// Members returns a snapshot slice of every current member.
func (c *Cluster) Members() []*Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// BroadcastSender delivers one channel packet to a single address; pkg/link
// supplies the concrete implementation backed by a live stream.
type BroadcastSender func(addr nodeaddr.Address, channelID byte, kind byte, data []byte) error

// Broadcast sends data to every member of c except those in exclude.
// A nil c broadcasts to every member of every registered cluster.
func Broadcast(reg *Registry, c *Cluster, channelID, kind byte, data []byte, exclude map[nodeaddr.Address]bool, send BroadcastSender) {
	targets := []*Cluster{c}
	if c == nil {
		targets = reg.All()
	}
	for _, target := range targets {
		for _, m := range target.Members() {
			if exclude != nil && exclude[m.Addr] {
				continue
			}
			if err := send(m.Addr, channelID, kind, data); err != nil {
				logrus.StandardLogger().Debugf("cluster broadcast: send to %s failed: %v", m.Addr, err)
			}
		}
	}
}

// GetRandomLink picks a uniformly-random member address from c using a
// cryptographic RNG (mirroring the teacher's shuffle-based peer sampling,
// specialized here to a single draw instead of a full shuffle).
func GetRandomLink(c *Cluster) (nodeaddr.Address, bool) {
	members := c.Members()
	if len(members) == 0 {
		return 0, false
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(members))))
	if err != nil {
		return 0, false
	}
	return members[n.Int64()].Addr, true
}

// LinkDeleteFromAll removes addr from every Autonomic/Embedded cluster in
// the registry.
func LinkDeleteFromAll(reg *Registry, addr nodeaddr.Address) {
	for _, c := range reg.AutonomicOrEmbedded() {
		c.MemberDelete(addr)
	}
}

// Delete removes cluster c from reg after clearing its members.
func Delete(reg *Registry, c *Cluster) {
	c.DeleteAllMembers()
	reg.Delete(c.GUUID)
}
