// Package storage persists validation samples, evaluation trends and
// labelled rows in a BoltDB file.
//
// Keys embed a zero-padded unix-nano timestamp so cursor order is time order
// and range queries can Seek straight to the start of a window.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"jamwatch/internal/evaluate"
)

const (
	samplesBucket     = "samples"     // validation samples
	evaluationsBucket = "evaluations" // daily trend scores keyed by run
	rowsBucket        = "rows"        // labelled rows received for validation

	// DBFile is the database file name inside the data directory.
	DBFile = "jamwatch.db"
)

// Store is a BoltDB-backed archive.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database in dataPath.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{samplesBucket, evaluationsBucket, rowsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
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

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func timeKey(prefix string, ts time.Time, seq int) []byte {
	return []byte(fmt.Sprintf("%s_%020d_%08d", prefix, ts.UnixNano(), seq))
}

// StoreSample stores a validation sample.
func (s *Store) StoreSample(sample evaluate.Sample) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(samplesBucket))

		data, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("marshal sample: %w", err)
		}
		return b.Put(timeKey("sample", sample.Timestamp, sample.Iteration), data)
	})
}

// Record stores a sample as it is appended to the serving history.
func (s *Store) Record(_ context.Context, sample evaluate.Sample) error {
	return s.StoreSample(sample)
}

// GetSamples returns samples with start <= timestamp <= end in time order.
func (s *Store) GetSamples(start, end time.Time) ([]evaluate.Sample, error) {
	var samples []evaluate.Sample

	err := s.scanRange(samplesBucket, "sample", start, end, func(v []byte) {
		var sample evaluate.Sample
		if err := json.Unmarshal(v, &sample); err != nil {
			return // skip malformed records
		}
		samples = append(samples, sample)
	})
	return samples, err
}

func (s *Store) scanRange(bucket, prefix string, start, end time.Time, fn func(v []byte)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()

		startKey := timeKey(prefix, start, 0)
		endKey := []byte(fmt.Sprintf("%s_%020d_~", prefix, end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			fn(v)
		}
		return nil
	})
}

// StoreEvaluation stores the daily scores of one evaluation run.
func (s *Store) StoreEvaluation(run string, days []evaluate.DailyScore) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(evaluationsBucket))
		for _, d := range days {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal daily score: %w", err)
			}
			if err := b.Put([]byte(run+"_"+d.Date), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetEvaluation returns the daily scores of a run in date order.
func (s *Store) GetEvaluation(run string) ([]evaluate.DailyScore, error) {
	var days []evaluate.DailyScore

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(evaluationsBucket)).Cursor()
		prefix := []byte(run + "_")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var d evaluate.DailyScore
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			days = append(days, d)
		}
		return nil
	})
	return days, err
}
