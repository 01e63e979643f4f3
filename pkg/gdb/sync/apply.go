package sync

import (
	"errors"
	"path"
	"time"

	"corenet/pkg/gdb"
)

// ErrNoMatchingGroup is returned by ApplyIncoming when obj's group matches
// no entry in sync_group_items or sync_group_extra_items.
var ErrNoMatchingGroup = errors.New("sync: object group not covered by any sync-group mask")

// ErrPinned is returned by ApplyIncoming when the locally stored record is
// pinned.
var ErrPinned = errors.New("sync: local record is pinned")

// ErrStale is returned by ApplyIncoming when the incoming record is not
// newer than what is already stored (or than the group's tombstone).
var ErrStale = errors.New("sync: incoming record is not newer than stored")

// ApplyIncoming validates and applies one incoming object on the receiving
// side: mask membership, pinned-record protection, and staleness checks,
// then applies via the driver and fires the matching mask's notifier.
func ApplyIncoming(drv gdb.Driver, obj *gdb.Object, items, extraItems []SyncGroupItem, netName string, storeTimeLimit time.Duration) error {
	notify := matchingNotifier(obj.Group, netName, items, extraItems)
	if notify == nil {
		return ErrNoMatchingGroup
	}

	existing, err := drv.ReadStoreObj(obj.Group, &obj.Key, nil, true)
	if err == nil && len(existing) > 0 {
		if existing[0].Flags&gdb.FlagPinned != 0 {
			return ErrPinned
		}
		if obj.Timestamp.UnixNano() <= existing[0].Timestamp.UnixNano() {
			return ErrStale
		}
	}

	tombstoneGroup := obj.Group + ".del"
	if tomb, err := drv.ReadLastStoreObj(tombstoneGroup, true); err == nil && tomb != nil {
		if obj.Timestamp.UnixNano() <= tomb.Timestamp.UnixNano() {
			return ErrStale
		}
	}

	if obj.Flags&gdb.FlagErase != 0 && time.Since(obj.Timestamp) > storeTimeLimit {
		return ErrStale
	}

	if err := drv.ApplyStoreObj(obj); err != nil {
		return err
	}
	notify(obj)
	return nil
}

func matchingNotifier(group, netName string, items, extraItems []SyncGroupItem) func(*gdb.Object) {
	for _, it := range items {
		if it.NetName == netName && matches(it.Mask, group) {
			return orNoop(it.Notify)
		}
	}
	for _, it := range extraItems {
		if it.NetName == netName && matches(it.Mask, group) {
			return orNoop(it.Notify)
		}
	}
	return nil
}

func matches(mask, group string) bool {
	ok, err := path.Match(mask, group)
	return err == nil && ok
}

func orNoop(f func(*gdb.Object)) func(*gdb.Object) {
	if f != nil {
		return f
	}
	return func(*gdb.Object) {}
}
