package swapdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapdhq/swapd/swap"
	"go.etcd.io/bbolt"
)

var (
	// dbFileName is the file name of the swap database.
	dbFileName = "swapd.db"

	// metaBucketKey stores database metadata, most importantly the
	// version.
	metaBucketKey = []byte("metadata")

	// dbVersionKey is the metadata key of the database version.
	dbVersionKey = []byte("dbversion")

	// submarineBucketKey contains all submarine swaps, keyed by swap id.
	submarineBucketKey = []byte("submarine-swaps")

	// reverseBucketKey contains all reverse swaps, keyed by swap id.
	reverseBucketKey = []byte("reverse-swaps")

	// chainBucketKey contains all chain swaps, keyed by swap id.
	chainBucketKey = []byte("chain-swaps")

	// refundBucketKey contains broadcast refunds, keyed by swap id.
	refundBucketKey = []byte("refund-transactions")

	// channelBucketKey contains channel creation requests, keyed by swap
	// id.
	channelBucketKey = []byte("channel-creations")

	// ErrNoChannelCreation is returned when the swap has no channel
	// creation attached.
	ErrNoChannelCreation = errors.New("no channel creation for swap")
)

// latestDBVersion is the version this package writes and reads.
const latestDBVersion = uint32(1)

// Store persists swaps, refunds and channel creations in a bolt database.
// It is the single source of truth for swap state; the nursery mutates rows
// exclusively through its methods.
type Store struct {
	db *bbolt.DB
}

// Open opens, and if needed initializes, the swap database in the given
// directory.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(filepath.Join(dbPath, dbFileName), 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucketKey)
		if err != nil {
			return err
		}

		versionBytes := meta.Get(dbVersionKey)
		if versionBytes == nil {
			log.Infof("Initializing new database with version %v",
				latestDBVersion)

			var b [4]byte
			byteOrder.PutUint32(b[:], latestDBVersion)
			if err := meta.Put(dbVersionKey, b[:]); err != nil {
				return err
			}
		} else if v := byteOrder.Uint32(versionBytes); v > latestDBVersion {
			return fmt.Errorf("database version %v newer than "+
				"latest known version %v", v, latestDBVersion)
		}

		for _, key := range [][]byte{
			submarineBucketKey, reverseBucketKey, chainBucketKey,
			refundBucketKey, channelBucketKey,
		} {
			if _, err := tx.CreateBucketIfNotExists(key); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// put writes a row into the given bucket, failing if the id is taken and
// overwrite is false.
func put(tx *bbolt.Tx, bucketKey []byte, id string, value []byte,
	overwrite bool) error {

	bucket := tx.Bucket(bucketKey)
	if bucket == nil {
		return fmt.Errorf("bucket %s does not exist", bucketKey)
	}

	if !overwrite && bucket.Get([]byte(id)) != nil {
		return fmt.Errorf("%w: %v", ErrSwapExists, id)
	}

	return bucket.Put([]byte(id), value)
}

// get reads a row from the given bucket.
func get(tx *bbolt.Tx, bucketKey []byte, id string) ([]byte, error) {
	bucket := tx.Bucket(bucketKey)
	if bucket == nil {
		return nil, fmt.Errorf("bucket %s does not exist", bucketKey)
	}

	value := bucket.Get([]byte(id))
	if value == nil {
		return nil, fmt.Errorf("%w: %v", ErrSwapNotFound, id)
	}

	return value, nil
}

// progressStatus applies the per kind transition rules to a status write.
// Re-writing the current status reports no change, everything else must
// follow the kind's progression.
func progressStatus(kind swap.Kind, id string, current Status,
	next Status) (bool, error) {

	if current == next {
		return false, nil
	}

	if !CanProgress(kind, current, next) {
		return false, fmt.Errorf("%w: %v swap %v cannot move from "+
			"%v to %v", ErrInvalidTransition, kind, id, current,
			next)
	}

	return true, nil
}

// CreateSubmarine adds a new submarine swap to the store.
func (s *Store) CreateSubmarine(ctx context.Context, sub *Submarine) error {
	value, err := serializeSubmarine(sub)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, submarineBucketKey, sub.ID, value, false)
	})
}

// GetSubmarine returns the submarine swap with the given id.
func (s *Store) GetSubmarine(ctx context.Context, id string) (*Submarine,
	error) {

	var sub *Submarine
	err := s.db.View(func(tx *bbolt.Tx) error {
		value, err := get(tx, submarineBucketKey, id)
		if err != nil {
			return err
		}

		sub, err = deserializeSubmarine(id, value)
		return err
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// modifySubmarine runs a read-modify-write cycle on a submarine swap row.
func (s *Store) modifySubmarine(id string,
	modify func(*Submarine) error) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		value, err := get(tx, submarineBucketKey, id)
		if err != nil {
			return err
		}

		sub, err := deserializeSubmarine(id, value)
		if err != nil {
			return err
		}

		if err := modify(sub); err != nil {
			return err
		}

		value, err = serializeSubmarine(sub)
		if err != nil {
			return err
		}

		return put(tx, submarineBucketKey, id, value, true)
	})
}

// UpdateSubmarineStatus moves a submarine swap to the given status. It
// returns false without error when the write was an idempotent re-fire of
// the current status.
func (s *Store) UpdateSubmarineStatus(ctx context.Context, id string,
	status Status) (bool, error) {

	var changed bool
	err := s.modifySubmarine(id, func(sub *Submarine) error {
		var err error
		changed, err = progressStatus(
			swap.KindSubmarine, id, sub.Status, status,
		)
		if err != nil || !changed {
			return err
		}

		sub.Status = status
		return nil
	})
	if err != nil {
		return false, err
	}

	return changed, nil
}

// SetSubmarineInvoice attaches the invoice to a submarine swap that was
// created without one.
func (s *Store) SetSubmarineInvoice(ctx context.Context, id,
	invoice string) error {

	return s.modifySubmarine(id, func(sub *Submarine) error {
		sub.Invoice = invoice
		return nil
	})
}

// SetSubmarineRate freezes the pair rate of a submarine swap whose lockup
// arrived before the invoice.
func (s *Store) SetSubmarineRate(ctx context.Context, id string,
	rate float64) error {

	return s.modifySubmarine(id, func(sub *Submarine) error {
		sub.Rate = rate
		return nil
	})
}

// SetSubmarinePreimage stores the preimage the invoice payment revealed.
func (s *Store) SetSubmarinePreimage(ctx context.Context, id string,
	preimage lntypes.Preimage) error {

	return s.modifySubmarine(id, func(sub *Submarine) error {
		sub.Preimage = &preimage
		return nil
	})
}

// SetSubmarineMinerFee records the fee the claim of a submarine swap paid.
func (s *Store) SetSubmarineMinerFee(ctx context.Context, id string,
	minerFee btcutil.Amount) error {

	return s.modifySubmarine(id, func(sub *Submarine) error {
		sub.MinerFee += minerFee
		return nil
	})
}

// SetSubmarineLockup records the observed user lockup of a submarine swap.
func (s *Store) SetSubmarineLockup(ctx context.Context, id, txid string,
	vout uint32, amount btcutil.Amount) error {

	return s.modifySubmarine(id, func(sub *Submarine) error {
		sub.LockupTransactionID = txid
		sub.LockupTransactionVout = vout
		sub.OnchainAmount = amount
		return nil
	})
}

// SubmarinesByStatus returns all submarine swaps in one of the given
// statuses.
func (s *Store) SubmarinesByStatus(ctx context.Context,
	statuses ...Status) ([]*Submarine, error) {

	var subs []*Submarine
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(submarineBucketKey).ForEach(
			func(k, v []byte) error {
				sub, err := deserializeSubmarine(string(k), v)
				if err != nil {
					return err
				}

				if statusIn(sub.Status, statuses) {
					subs = append(subs, sub)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return subs, nil
}

// PendingSubmarines returns all submarine swaps that have not reached a
// terminal status.
func (s *Store) PendingSubmarines(ctx context.Context) ([]*Submarine, error) {
	var subs []*Submarine
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(submarineBucketKey).ForEach(
			func(k, v []byte) error {
				sub, err := deserializeSubmarine(string(k), v)
				if err != nil {
					return err
				}

				if !IsTerminal(swap.KindSubmarine, sub.Status) {
					subs = append(subs, sub)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return subs, nil
}

// SubmarineByInvoice returns the submarine swap paying the given invoice, or
// ErrSwapNotFound. Used to detect cyclic self payments before settling a
// reverse swap.
func (s *Store) SubmarineByInvoice(ctx context.Context,
	invoice string) (*Submarine, error) {

	var found *Submarine
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(submarineBucketKey).ForEach(
			func(k, v []byte) error {
				sub, err := deserializeSubmarine(string(k), v)
				if err != nil {
					return err
				}

				if sub.Invoice == invoice {
					found = sub
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, fmt.Errorf("%w: invoice", ErrSwapNotFound)
	}

	return found, nil
}

// CreateReverse adds a new reverse swap to the store.
func (s *Store) CreateReverse(ctx context.Context, rev *Reverse) error {
	value, err := serializeReverse(rev)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, reverseBucketKey, rev.ID, value, false)
	})
}

// GetReverse returns the reverse swap with the given id.
func (s *Store) GetReverse(ctx context.Context, id string) (*Reverse, error) {
	var rev *Reverse
	err := s.db.View(func(tx *bbolt.Tx) error {
		value, err := get(tx, reverseBucketKey, id)
		if err != nil {
			return err
		}

		rev, err = deserializeReverse(id, value)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rev, nil
}

// modifyReverse runs a read-modify-write cycle on a reverse swap row.
func (s *Store) modifyReverse(id string, modify func(*Reverse) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		value, err := get(tx, reverseBucketKey, id)
		if err != nil {
			return err
		}

		rev, err := deserializeReverse(id, value)
		if err != nil {
			return err
		}

		if err := modify(rev); err != nil {
			return err
		}

		value, err = serializeReverse(rev)
		if err != nil {
			return err
		}

		return put(tx, reverseBucketKey, id, value, true)
	})
}

// UpdateReverseStatus moves a reverse swap to the given status. It returns
// false without error when the write was an idempotent re-fire of the
// current status.
func (s *Store) UpdateReverseStatus(ctx context.Context, id string,
	status Status) (bool, error) {

	var changed bool
	err := s.modifyReverse(id, func(rev *Reverse) error {
		var err error
		changed, err = progressStatus(
			swap.KindReverse, id, rev.Status, status,
		)
		if err != nil || !changed {
			return err
		}

		rev.Status = status
		return nil
	})
	if err != nil {
		return false, err
	}

	return changed, nil
}

// SetReverseServerLockup records our broadcast lockup of a reverse swap.
func (s *Store) SetReverseServerLockup(ctx context.Context, id, txid string,
	vout uint32, minerFee btcutil.Amount) error {

	return s.modifyReverse(id, func(rev *Reverse) error {
		rev.TransactionID = txid
		rev.TransactionVout = vout
		rev.MinerFee = minerFee
		return nil
	})
}

// SetReversePreimage stores the preimage the user revealed onchain before
// the invoice settle is attempted, so an interrupted settle can be replayed
// after a restart.
func (s *Store) SetReversePreimage(ctx context.Context, id string,
	preimage lntypes.Preimage) error {

	return s.modifyReverse(id, func(rev *Reverse) error {
		rev.Preimage = &preimage
		return nil
	})
}

// SetReverseInvoiceSettled stores the revealed preimage and moves the swap
// to InvoiceSettled.
func (s *Store) SetReverseInvoiceSettled(ctx context.Context, id string,
	preimage lntypes.Preimage) error {

	return s.modifyReverse(id, func(rev *Reverse) error {
		changed, err := progressStatus(
			swap.KindReverse, id, rev.Status,
			StatusInvoiceSettled,
		)
		if err != nil || !changed {
			return err
		}

		rev.Preimage = &preimage
		rev.Status = StatusInvoiceSettled
		return nil
	})
}

// ReversesByStatus returns all reverse swaps in one of the given statuses.
func (s *Store) ReversesByStatus(ctx context.Context, statuses ...Status) (
	[]*Reverse, error) {

	var revs []*Reverse
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(reverseBucketKey).ForEach(
			func(k, v []byte) error {
				rev, err := deserializeReverse(string(k), v)
				if err != nil {
					return err
				}

				if statusIn(rev.Status, statuses) {
					revs = append(revs, rev)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return revs, nil
}

// PendingReverses returns all reverse swaps that have not reached a terminal
// status.
func (s *Store) PendingReverses(ctx context.Context) ([]*Reverse, error) {
	var revs []*Reverse
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(reverseBucketKey).ForEach(
			func(k, v []byte) error {
				rev, err := deserializeReverse(string(k), v)
				if err != nil {
					return err
				}

				if !IsTerminal(swap.KindReverse, rev.Status) {
					revs = append(revs, rev)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return revs, nil
}

// CreateChain adds a new chain swap to the store.
func (s *Store) CreateChain(ctx context.Context, c *Chain) error {
	value, err := serializeChain(c)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, chainBucketKey, c.ID, value, false)
	})
}

// GetChain returns the chain swap with the given id.
func (s *Store) GetChain(ctx context.Context, id string) (*Chain, error) {
	var c *Chain
	err := s.db.View(func(tx *bbolt.Tx) error {
		value, err := get(tx, chainBucketKey, id)
		if err != nil {
			return err
		}

		c, err = deserializeChain(id, value)
		return err
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// modifyChain runs a read-modify-write cycle on a chain swap row.
func (s *Store) modifyChain(id string, modify func(*Chain) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		value, err := get(tx, chainBucketKey, id)
		if err != nil {
			return err
		}

		c, err := deserializeChain(id, value)
		if err != nil {
			return err
		}

		if err := modify(c); err != nil {
			return err
		}

		value, err = serializeChain(c)
		if err != nil {
			return err
		}

		return put(tx, chainBucketKey, id, value, true)
	})
}

// UpdateChainStatus moves a chain swap to the given status. It returns false
// without error when the write was an idempotent re-fire of the current
// status.
func (s *Store) UpdateChainStatus(ctx context.Context, id string,
	status Status) (bool, error) {

	var changed bool
	err := s.modifyChain(id, func(c *Chain) error {
		var err error
		changed, err = progressStatus(
			swap.KindChain, id, c.Status, status,
		)
		if err != nil || !changed {
			return err
		}

		c.Status = status
		return nil
	})
	if err != nil {
		return false, err
	}

	return changed, nil
}

// SetChainServerLockup records our broadcast lockup on the sending leg of a
// chain swap.
func (s *Store) SetChainServerLockup(ctx context.Context, id, txid string,
	vout uint32, amount, fee btcutil.Amount) error {

	return s.modifyChain(id, func(c *Chain) error {
		c.Sending.TransactionID = txid
		c.Sending.TransactionVout = vout
		c.Sending.Amount = amount
		c.Sending.Fee = fee
		return nil
	})
}

// SetChainUserLockup records the observed user lockup on the receiving leg
// of a chain swap.
func (s *Store) SetChainUserLockup(ctx context.Context, id, txid string,
	vout uint32, amount btcutil.Amount) error {

	return s.modifyChain(id, func(c *Chain) error {
		c.Receiving.TransactionID = txid
		c.Receiving.TransactionVout = vout
		c.Receiving.Amount = amount
		return nil
	})
}

// SetChainClaimMinerFee records the fee our claim on the receiving leg paid.
func (s *Store) SetChainClaimMinerFee(ctx context.Context, id string,
	fee btcutil.Amount) error {

	return s.modifyChain(id, func(c *Chain) error {
		c.Receiving.Fee += fee
		return nil
	})
}

// SetChainPreimage stores the preimage the counterparty revealed.
func (s *Store) SetChainPreimage(ctx context.Context, id string,
	preimage lntypes.Preimage) error {

	return s.modifyChain(id, func(c *Chain) error {
		c.Preimage = &preimage
		return nil
	})
}

// ChainsByStatus returns all chain swaps in one of the given statuses.
func (s *Store) ChainsByStatus(ctx context.Context, statuses ...Status) (
	[]*Chain, error) {

	var chains []*Chain
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(chainBucketKey).ForEach(
			func(k, v []byte) error {
				c, err := deserializeChain(string(k), v)
				if err != nil {
					return err
				}

				if statusIn(c.Status, statuses) {
					chains = append(chains, c)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return chains, nil
}

// PendingChains returns all chain swaps that have not reached a terminal
// status.
func (s *Store) PendingChains(ctx context.Context) ([]*Chain, error) {
	var chains []*Chain
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(chainBucketKey).ForEach(
			func(k, v []byte) error {
				c, err := deserializeChain(string(k), v)
				if err != nil {
					return err
				}

				if !IsTerminal(swap.KindChain, c.Status) {
					chains = append(chains, c)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return chains, nil
}

// AddRefundTransaction stores a broadcast refund for confirmation tracking.
func (s *Store) AddRefundTransaction(ctx context.Context,
	ref *RefundTransaction) error {

	value, err := serializeRefund(ref)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, refundBucketKey, ref.SwapID, value, true)
	})
}

// PendingRefunds returns all refunds that have not confirmed yet.
func (s *Store) PendingRefunds(ctx context.Context) ([]*RefundTransaction,
	error) {

	var refunds []*RefundTransaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(refundBucketKey).ForEach(
			func(k, v []byte) error {
				ref, err := deserializeRefund(string(k), v)
				if err != nil {
					return err
				}

				if !ref.Settled {
					refunds = append(refunds, ref)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return refunds, nil
}

// SettleRefund marks the refund of the given swap as confirmed.
func (s *Store) SettleRefund(ctx context.Context, swapID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		value, err := get(tx, refundBucketKey, swapID)
		if err != nil {
			return err
		}

		ref, err := deserializeRefund(swapID, value)
		if err != nil {
			return err
		}

		ref.Settled = true

		value, err = serializeRefund(ref)
		if err != nil {
			return err
		}

		return put(tx, refundBucketKey, swapID, value, true)
	})
}

// CreateChannelCreation attaches a channel creation request to a submarine
// swap.
func (s *Store) CreateChannelCreation(ctx context.Context,
	c *ChannelCreation) error {

	value, err := serializeChannelCreation(c)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, channelBucketKey, c.SwapID, value, true)
	})
}

// GetChannelCreation returns the channel creation attached to the given
// swap, or ErrNoChannelCreation.
func (s *Store) GetChannelCreation(ctx context.Context, swapID string) (
	*ChannelCreation, error) {

	var c *ChannelCreation
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(channelBucketKey)
		value := bucket.Get([]byte(swapID))
		if value == nil {
			return fmt.Errorf("%w: %v", ErrNoChannelCreation,
				swapID)
		}

		var err error
		c, err = deserializeChannelCreation(swapID, value)
		return err
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// statusIn reports whether the status is in the given set.
func statusIn(status Status, set []Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}

	return false
}
