package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketNetwork     = []byte("network")
	bucketDiagnostics = []byte("diagnostics")
	keyNetState       = []byte("state")
	keyLatest         = []byte("latest")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNetwork, bucketDiagnostics} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) put(bucket, key []byte, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucket)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) get(bucket, key []byte, what string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucket)
		}
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) SaveNetworkState(state *NetworkState) error {
	return s.put(bucketNetwork, keyNetState, networkStateStorage{
		Channel:     state.Channel,
		PanID:       state.PanID,
		ExtPanID:    state.ExtPanID,
		NetworkName: state.NetworkName,
		NetworkKey:  state.NetworkKey,
		Formed:      state.Formed,
		FormedAt:    state.FormedAt,
	})
}

func (s *BoltStore) GetNetworkState() (*NetworkState, error) {
	var st networkStateStorage
	if err := s.get(bucketNetwork, keyNetState, "network state", &st); err != nil {
		return nil, err
	}
	return &NetworkState{
		Channel:     st.Channel,
		PanID:       st.PanID,
		ExtPanID:    st.ExtPanID,
		NetworkName: st.NetworkName,
		NetworkKey:  st.NetworkKey,
		Formed:      st.Formed,
		FormedAt:    st.FormedAt,
	}, nil
}

func (s *BoltStore) SaveDiagnostics(snap *DiagnosticsSnapshot) error {
	return s.put(bucketDiagnostics, keyLatest, snap)
}

func (s *BoltStore) GetDiagnostics() (*DiagnosticsSnapshot, error) {
	var snap DiagnosticsSnapshot
	if err := s.get(bucketDiagnostics, keyLatest, "diagnostics", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
