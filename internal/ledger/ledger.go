// Package ledger keeps a local history of fetch and import runs in a bbolt
// file so repeated invocations can be audited without a database.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/JonMunkholm/bulkdata/internal/load"
	"github.com/JonMunkholm/bulkdata/internal/transfer"
)

// Kind selects a history bucket.
type Kind string

const (
	KindTransfer Kind = "transfers"
	KindImport   Kind = "imports"
)

// Kinds lists every bucket in display order.
var Kinds = []Kind{KindTransfer, KindImport}

// Record is one file's result within a run.
type Record struct {
	Seq      uint64        `json:"-"`
	RunID    string        `json:"run_id"`
	File     string        `json:"file"`
	Status   string        `json:"status"`
	Bytes    int64         `json:"bytes,omitempty"`
	Rows     int64         `json:"rows,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Ledger is an open history file.
type Ledger struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		slog.Error("failed to open ledger", "path", path, "error", err)
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, k := range Kinds {
			if _, err := tx.CreateBucketIfNotExists([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger buckets: %w", err)
	}

	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the underlying file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append stores records in one write transaction.
func (l *Ledger) Append(kind Kind, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("unknown ledger bucket %q", kind)
		}

		for _, r := range records {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if r.At.IsZero() {
				r.At = l.now().UTC()
			}
			v, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns up to limit records of kind, newest first.
// A limit <= 0 returns everything.
func (l *Ledger) History(kind Kind, limit int) ([]Record, error) {
	var out []Record

	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("unknown ledger bucket %q", kind)
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			r.Seq = binary.BigEndian.Uint64(k)
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// RecordTransfers appends one record per transfer outcome.
func (l *Ledger) RecordTransfers(runID string, outcomes []transfer.Outcome) error {
	records := make([]Record, len(outcomes))
	for i, o := range outcomes {
		records[i] = Record{
			RunID:    runID,
			File:     o.Task.Ref.Name,
			Status:   o.Status.String(),
			Bytes:    o.Bytes,
			Attempts: o.Attempts,
			Duration: o.Duration,
			Error:    errString(o.Err),
		}
	}
	return l.Append(KindTransfer, records...)
}

// RecordImports appends one record per load outcome.
func (l *Ledger) RecordImports(runID string, outcomes []load.Outcome) error {
	records := make([]Record, len(outcomes))
	for i, o := range outcomes {
		records[i] = Record{
			RunID:    runID,
			File:     o.File.Name(),
			Status:   string(o.Phase),
			Rows:     o.Rows,
			Duration: o.Duration,
			Error:    errString(o.Err),
		}
	}
	return l.Append(KindImport, records...)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
