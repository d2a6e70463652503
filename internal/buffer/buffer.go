// Package buffer keeps confirmed-but-unsaved registrations on local disk until
// the ledger accepts them.
package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"tourney-registry/internal/models"
	"tourney-registry/internal/payments"
)

var bucketPending = []byte("pending_registrations")

var (
	ErrNotFound = errors.New("buffer entry not found")
	// ErrConflict means the email is already buffered under another payment.
	ErrConflict = errors.New("email already buffered for another payment")
)

// Entry is a registration whose payment was confirmed but whose ledger write
// failed. Keyed by contact email.
type Entry struct {
	Registration models.RegisterCommand `json:"registration"`
	Method       string                 `json:"method"`
	Status       payments.Status        `json:"status"`
	Reference    string                 `json:"reference"`
	Amount       int64                  `json:"amount"`
	BufferedAt   time.Time              `json:"bufferedAt"`
	Attempts     int                    `json:"attempts"`
	LastError    string                 `json:"lastError,omitempty"`
}

// Verification rebuilds the result the entry was buffered with.
func (e Entry) Verification() payments.VerificationResult {
	return payments.VerificationResult{Status: e.Status, Reference: e.Reference, Amount: e.Amount}
}

type Buffer struct {
	db *bolt.DB
}

func Open(path string) (*Buffer, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open buffer: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPending)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}
	return &Buffer{db: db}, nil
}

func (b *Buffer) Close() error { return b.db.Close() }

// Put stores e under its email. An earlier entry for the same payment is
// replaced; one for a different payment is kept and ErrConflict returned.
func (b *Buffer) Put(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	key := []byte(e.Registration.ContactEmail)
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketPending)
		if prev := bkt.Get(key); prev != nil {
			var old Entry
			if err := json.Unmarshal(prev, &old); err != nil {
				return fmt.Errorf("entry %s: %w", key, err)
			}
			if old.Reference != e.Reference {
				return ErrConflict
			}
		}
		return bkt.Put(key, data)
	})
}

func (b *Buffer) Get(email string) (Entry, error) {
	var e Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPending).Get([]byte(email))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &e)
	})
	return e, err
}

func (b *Buffer) Delete(email string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Delete([]byte(email))
	})
}

// List returns every entry in key order.
func (b *Buffer) List() ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (b *Buffer) Len() (int, error) {
	n := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return n, err
}
