// Package sync builds prioritized, lazily-produced sequences of outbound
// replication packets (log-lists) for a peer, and applies incoming
// objects on the receiving side.
package sync

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"corenet/pkg/gdb"
	"corenet/pkg/nodeaddr"
)

// SyncGroupItem is one entry of either the sync_group_items or
// sync_group_extra_items process-wide list: a group mask plus the network
// it applies to and a notifier invoked when an incoming object matches.
// Active is meaningful only for entries registered against the proper
// (non-extra) list; callers that only ever populate the extra/passive
// list leave it false and it is simply ignored.
type SyncGroupItem struct {
	Mask    string
	NetName string
	Active  bool
	Notify  func(obj *gdb.Object)
}

// maxBatchSize is the per-read-batch cap the producer goroutine pulls raw
// objects in.
const maxBatchSize = 64

// LastIDGroup is the local GDB group name holding each peer's last-synced
// record id, keyed by "<nodeAddr><group>".
const LastIDGroup = "local.node.last_id"

// logListObj is one queued output item: the encoded packet plus its
// content hash (computed with the id zeroed for hash stability).
type logListObj struct {
	Pkt         []byte
	ContentHash [16]byte
}

// LogList is a producer/consumer sequence of outbound sync packets for one
// peer, bounded by total byte size rather than item count.
type LogList struct {
	drv     gdb.Driver
	peer    nodeaddr.Address
	groups  []string
	maxSize int

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []logListObj
	size      int
	running   atomic32
	announcer *Announcer

	producedTotal int
	log           *logrus.Logger
}

// SetAnnouncer attaches a (possibly nil) gossip announcer; produce()
// announces each group as it finishes queuing that group's records.
func (ll *LogList) SetAnnouncer(a *Announcer) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.announcer = a
}

// atomic32 is a tiny bool-ish flag guarded by LogList.mu rather than
// sync/atomic, since every access already holds the mutex for the queue.
type atomic32 struct{ v bool }

// NewLogList builds a log-list for peer over net, merging sync_group_items
// and (if includeExtra) sync_group_extra_items, expanding masks via the
// driver, deduplicating, and applying whichever of whitelist/blacklist is
// non-nil (whitelist overrides blacklist). Returns nil if the resulting
// group set has zero pending records.
func NewLogList(drv gdb.Driver, peer nodeaddr.Address, netName string, items, extraItems []SyncGroupItem, includeExtra bool, whitelist, blacklist []string, maxSize int, log *logrus.Logger) (*LogList, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var masks []string
	for _, it := range items {
		if it.NetName == netName {
			masks = append(masks, it.Mask)
		}
	}
	if includeExtra {
		for _, it := range extraItems {
			if it.NetName == netName {
				masks = append(masks, it.Mask)
			}
		}
	}

	groupSet := map[string]bool{}
	for _, mask := range masks {
		expanded, err := drv.GetGroupsByMask(mask)
		if err != nil {
			return nil, err
		}
		for _, g := range expanded {
			groupSet[g] = true
		}
	}

	var groups []string
	for g := range groupSet {
		if filterGroup(g, whitelist, blacklist) {
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)

	total := 0
	for _, g := range groups {
		_, remaining := lastSyncedAndRemaining(drv, peer, g)
		total += remaining
	}
	if total == 0 {
		return nil, nil
	}

	ll := &LogList{
		drv:     drv,
		peer:    peer,
		groups:  groups,
		maxSize: maxSize,
		log:     log,
	}
	ll.cond = sync.NewCond(&ll.mu)
	ll.running.v = true
	go ll.produce()
	return ll, nil
}

// filterGroup applies whitelist-overrides-blacklist shell-glob matching;
// nil whitelist and blacklist both mean "no restriction".
func filterGroup(group string, whitelist, blacklist []string) bool {
	if whitelist != nil {
		for _, m := range whitelist {
			if ok, _ := path.Match(m, group); ok {
				return true
			}
		}
		return false
	}
	if blacklist != nil {
		for _, m := range blacklist {
			if ok, _ := path.Match(m, group); ok {
				return false
			}
		}
	}
	return true
}

func lastSyncedAndRemaining(drv gdb.Driver, peer nodeaddr.Address, group string) (int64, int) {
	key := peer.String() + group
	var lastID int64
	if obj, err := drv.ReadLastStoreObj(LastIDGroup, false); err == nil && obj != nil && obj.Key == key {
		lastID = int64(obj.CRC)
	}
	count, _ := drv.ReadCountStore(group)
	return lastID, count
}

// produce drains raw objects from each group in order, classifying
// delete-groups (name matching "*.del"), discarding broken records, and
// appending packets to the bounded output queue; it blocks on the
// condition variable whenever the queue's byte size exceeds maxSize.
func (ll *LogList) produce() {
	storeTimeLimit := 30 * 24 * time.Hour
	now := time.Now()

	for _, group := range ll.groups {
		isDelGroup := path.Ext(group) == ".del"
		targetGroup := group
		if isDelGroup {
			targetGroup = group[:len(group)-len(".del")]
		}

		count := maxBatchSize
		objs, err := ll.drv.ReadStoreObj(group, nil, &count, true)
		if err != nil {
			ll.log.Warnf("sync: read batch for %s: %v", group, err)
			continue
		}

		for _, obj := range objs {
			if isBroken(obj, now) {
				_ = ll.drv.ApplyStoreObj(&gdb.Object{Group: obj.Group, Key: obj.Key, Flags: gdb.FlagErase})
				continue
			}

			if isDelGroup {
				obj.Group = targetGroup
				if now.Sub(obj.Timestamp) > storeTimeLimit {
					_ = ll.drv.ApplyStoreObj(&gdb.Object{Group: group, Key: obj.Key, Flags: gdb.FlagErase})
					continue
				}
			}

			pkt := gdb.EncodePacket(now, []*gdb.Object{obj})
			hashSrc := gdb.EncodePacket(now, []*gdb.Object{gdb.ZeroedID(obj)})

			item := logListObj{Pkt: pkt, ContentHash: hashOf(hashSrc)}
			ll.append(item)
		}

		ll.mu.Lock()
		announcer := ll.announcer
		ll.mu.Unlock()
		announcer.Announce(context.Background(), group)
	}

	ll.mu.Lock()
	ll.running.v = false
	ll.cond.Broadcast()
	ll.mu.Unlock()
}

func isBroken(obj *gdb.Object, now time.Time) bool {
	if obj.Group == "" {
		return true
	}
	ns := obj.Timestamp.UnixNano()
	if ns>>32 == 0 {
		return true
	}
	if obj.Timestamp.After(now.Add(24 * time.Hour)) {
		return true
	}
	return false
}

// append adds item to the queue, blocking while the queue's byte size
// exceeds maxSize.
func (ll *LogList) append(item logListObj) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	for ll.size > ll.maxSize {
		ll.cond.Wait()
	}
	ll.queue = append(ll.queue, item)
	ll.size += len(item.Pkt)
	ll.producedTotal++
}

// Get pops the first queued item. The second return value reports whether
// the producer is still running, letting the caller distinguish "done"
// (queue empty, not running) from "more coming" (queue empty, running).
func (ll *LogList) Get() (pkt []byte, stillRunning bool) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	if len(ll.queue) == 0 {
		return nil, ll.running.v
	}
	item := ll.queue[0]
	ll.queue = ll.queue[1:]
	ll.size -= len(item.Pkt)
	if ll.size <= ll.maxSize {
		ll.cond.Signal()
	}
	return item.Pkt, ll.running.v
}

func hashOf(pkt []byte) [16]byte {
	var h [16]byte
	var acc uint64
	for i, b := range pkt {
		acc = acc*31 + uint64(b)
		h[i%16] ^= byte(acc)
	}
	return h
}
