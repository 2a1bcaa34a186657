package node

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/ethdb/bboltdb"
	"github.com/cascoin/l2core/ethdb/pebble"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/log"
)

const ledgerNamespace = "l2core/ledger/"

// ErrLedgerLocked is returned when another process holds the ledger.
var ErrLedgerLocked = errors.New("ledger already in use")

// lockLedger takes the exclusive lock of an on-disk ledger.
func lockLedger(path string) (*flock.Flock, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock ledger %s", path)
	}
	if !locked {
		return nil, errors.Wrap(ErrLedgerLocked, path)
	}
	return lock, nil
}

// openLedger opens the database the anchor ledger lives in.
func openLedger(cfg LedgerConfig) (ledgerdb.Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		log.Info("Using in-memory anchor ledger")
		return memorydb.New(), nil

	case BackendPebble:
		if cfg.Path == "" {
			return nil, errors.New("pebble ledger needs a path")
		}
		db, err := pebble.New(cfg.Path, cfg.Cache, cfg.Handles, ledgerNamespace, false)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open pebble ledger at %s", cfg.Path)
		}
		return db, nil

	case BackendBolt:
		if cfg.Path == "" {
			return nil, errors.New("bbolt ledger needs a path")
		}
		db, err := bboltdb.New(cfg.Path, ledgerNamespace, false, false)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open bbolt ledger at %s", cfg.Path)
		}
		return db, nil

	case BackendLevelDB:
		if cfg.Path == "" {
			return nil, errors.New("leveldb ledger needs a path")
		}
		db, err := leveldb.New(cfg.Path, cfg.Cache, cfg.Handles, ledgerNamespace, false)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open leveldb ledger at %s", cfg.Path)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
