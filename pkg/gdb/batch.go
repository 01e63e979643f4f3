package gdb

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Transactional is implemented by drivers that support bracketing a batch
// of applies in a transaction; MemDriver implements it with an in-memory
// snapshot.
type Transactional interface {
	TransactionStart() error
	TransactionEnd(commit bool) error
}

// ApplyBatch applies objs to drv. When more than one object is supplied and
// drv supports transactions, the whole batch is wrapped: it commits on
// clean exit and rolls back on the first hard error. Objects with a blank
// driver hash are logged and skipped; group-key validation is skipped for
// erase tombstones whose group does not currently exist.
func ApplyBatch(drv Driver, objs []*Object, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	useTx := len(objs) > 1
	if useTx {
		if err := drv.TransactionStart(); err != nil && err != ErrNotSupported {
			return fmt.Errorf("gdb: transaction start: %w", err)
		} else if err == ErrNotSupported {
			useTx = false
		}
	}

	for _, obj := range objs {
		if obj.DriverHash() == ([16]byte{}) {
			log.Warnf("gdb: skipping object with blank driver hash: %s", obj)
			continue
		}
		if err := validateForApply(drv, obj); err != nil {
			if useTx {
				_ = drv.TransactionEnd(false)
			}
			return err
		}
		if err := drv.ApplyStoreObj(obj); err != nil && err != ErrNotFound {
			if useTx {
				_ = drv.TransactionEnd(false)
			}
			return fmt.Errorf("gdb: apply %s: %w", obj, err)
		}
	}

	if useTx {
		return drv.TransactionEnd(true)
	}
	return nil
}

// validateForApply enforces the group/key shape unless obj is an erase
// tombstone targeting a group the driver doesn't know about.
func validateForApply(drv Driver, obj *Object) error {
	if err := obj.Validate(); err != nil {
		if err == ErrInvalidGroup && obj.Flags&FlagErase != 0 {
			if ok, isErr := drv.IsObj(obj.Group, obj.Key); isErr == nil && !ok {
				return nil
			}
		}
		return err
	}
	return nil
}
