package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/innonova/mimiri-client-sub002/schemas"
	bolt "go.etcd.io/bbolt"
)

const (
	NoteStore        = "note-store"
	NoteLocalStore   = "note-local-store"
	NoteDeletedStore = "note-deleted-store"
	KeyStore         = "key-store"
	KeyLocalStore    = "key-local-store"
	KeyDeletedStore  = "key-deleted-store"
	UserStore        = "user-store"

	KeyLastSync           = "last-sync"
	KeyLocalData          = "local-data"
	KeyLocalState         = "local-state"
	KeyUserStats          = "user-stats"
	KeyInitializationData = "initialization-data"
	KeyLocalUserData      = "local-user-data"
	KeyUserData           = "user-data"

	mappingDBName = "mimiri.db"
	dbFilePrefix  = "mimiri-"
	dbFileExt     = ".db"
	dbFileMode    = 0o600
	dbDirMode     = 0o700
	dbOpenTimeout = 5 * time.Second
	notePrefix    = "note-"
	keyPrefix     = "key-"
)

var ErrNotOpen = errors.New("store not open")

func NoteKey(id string) string {
	return notePrefix + id
}

func KeyKey(id string) string {
	return keyPrefix + id
}

// Store is the local encrypted store of one account. It holds ciphertext only.
type Store struct {
	dir      string
	validate bool
	log      logging.Logger

	mu          sync.RWMutex
	db          *storm.DB
	logicalName string
	actualName  string

	lock *SyncLock
}

// New returns a closed store rooted at dir.
func New(dir string, validate, debug bool) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("New | directory is required")
	}

	if err := os.MkdirAll(dir, dbDirMode); err != nil {
		return nil, fmt.Errorf("New | failed to make store directory: %s: %w", dir, err)
	}

	return &Store{
		dir:      dir,
		validate: validate,
		log:      logging.New(debug, "store"),
		lock:     NewSyncLock(debug),
	}, nil
}

func boltOptions() func(*storm.Options) error {
	return storm.BoltOptions(dbFileMode, &bolt.Options{Timeout: dbOpenTimeout})
}

func (s *Store) withMappingDB(fn func(db *storm.DB) error) error {
	db, err := storm.Open(filepath.Join(s.dir, mappingDBName), boltOptions())
	if err != nil {
		return fmt.Errorf("withMappingDB | %w", err)
	}

	err = fn(db)

	if cerr := db.Close(); cerr != nil && err == nil {
		err = cerr
	}

	return err
}

func (s *Store) lookupName(logicalName string, create bool) (actualName string, err error) {
	err = s.withMappingDB(func(db *storm.DB) error {
		var m NameMapping

		ferr := db.One("LogicalName", logicalName, &m)
		if ferr == nil {
			actualName = m.ActualName
			return nil
		}

		if !errors.Is(ferr, storm.ErrNotFound) {
			return ferr
		}

		if !create {
			return nil
		}

		actualName = dbFilePrefix + uuid.NewString()

		return db.Save(&NameMapping{LogicalName: logicalName, ActualName: actualName})
	})

	return
}

func (s *Store) path(actualName string) string {
	return filepath.Join(s.dir, actualName+dbFileExt)
}

// Exists reports whether a store has been created for the logical name.
func (s *Store) Exists(logicalName string) (bool, error) {
	actual, err := s.lookupName(logicalName, false)
	if err != nil {
		return false, err
	}

	return actual != "", nil
}

// Names lists every logical name in the mapping table.
func (s *Store) Names() ([]string, error) {
	var names []string

	err := s.withMappingDB(func(db *storm.DB) error {
		var all []NameMapping
		if err := db.All(&all); err != nil {
			return err
		}

		for _, m := range all {
			names = append(names, m.LogicalName)
		}

		return nil
	})

	return names, err
}

// Open opens the store for logicalName, creating the mapping and database if
// needed. An open store is closed first.
func (s *Store) Open(logicalName string) error {
	actual, err := s.lookupName(logicalName, true)
	if err != nil {
		return fmt.Errorf("Open | %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err = s.db.Close(); err != nil {
			return fmt.Errorf("Open | %w", err)
		}

		s.db = nil
	}

	s.log.Debugf("Open | using db in '%s'", s.path(actual))

	db, err := storm.Open(s.path(actual), boltOptions())
	if err != nil {
		return fmt.Errorf("Open | %w", err)
	}

	s.db = db
	s.logicalName = logicalName
	s.actualName = actual

	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	db := s.db
	s.db = nil

	return db.Close()
}

func (s *Store) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db != nil
}

// Name returns the logical name of the open store.
func (s *Store) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.logicalName
}

func (s *Store) Lock() *SyncLock {
	return s.lock
}

// DeleteDatabase removes the mapping for the open store and deletes its file.
func (s *Store) DeleteDatabase() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrNotOpen
	}

	logical := s.logicalName

	if err := s.withMappingDB(func(db *storm.DB) error {
		return db.DeleteStruct(&NameMapping{LogicalName: logical})
	}); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return fmt.Errorf("DeleteDatabase | %w", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("DeleteDatabase | %w", err)
	}

	s.db = nil

	if err := os.Remove(s.path(s.actualName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("DeleteDatabase | %w", err)
	}

	s.logicalName = ""
	s.actualName = ""

	return nil
}

// RenameDatabase points newName at the open database and drops the old name.
// No data is copied.
func (s *Store) RenameDatabase(newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrNotOpen
	}

	if s.logicalName == newName {
		return nil
	}

	oldName, actual := s.logicalName, s.actualName

	err := s.withMappingDB(func(db *storm.DB) error {
		tx, err := db.Begin(true)
		if err != nil {
			return err
		}

		if err = tx.Save(&NameMapping{LogicalName: newName, ActualName: actual}); err != nil {
			_ = tx.Rollback()
			return err
		}

		if err = tx.DeleteStruct(&NameMapping{LogicalName: oldName}); err != nil && !errors.Is(err, storm.ErrNotFound) {
			_ = tx.Rollback()
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("RenameDatabase | %w", err)
	}

	s.logicalName = newName

	return nil
}

// HasOneOrMoreAccounts reports whether any name other than the account-less
// local store exists.
func (s *Store) HasOneOrMoreAccounts(localName string) (bool, error) {
	names, err := s.Names()
	if err != nil {
		return false, err
	}

	for _, n := range names {
		if n != localName {
			return true, nil
		}
	}

	return false, nil
}

func (s *Store) conn() (*storm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotOpen
	}

	return s.db, nil
}

func (s *Store) check(schema string, v interface{}) error {
	if !s.validate {
		return nil
	}

	return schemas.Validate(schema, v)
}

func (s *Store) get(bucket, key string, to interface{}) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	if err = db.Get(bucket, key, to); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("get | %s/%s: %w", bucket, key, err)
	}

	return true, nil
}

func (s *Store) set(bucket, key string, value interface{}) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	if err = db.Set(bucket, key, value); err != nil {
		return fmt.Errorf("set | %s/%s: %w", bucket, key, err)
	}

	return nil
}

func (s *Store) delete(bucket, key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	if err = db.Delete(bucket, key); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return fmt.Errorf("delete | %s/%s: %w", bucket, key, err)
	}

	return nil
}

// all decodes every value in bucket whose key has prefix.
func all[T any](s *Store, bucket, prefix string) ([]T, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var out []T

	err = db.Bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			if !strings.HasPrefix(string(k), prefix) {
				return nil
			}

			var item T
			if uerr := db.Codec().Unmarshal(v, &item); uerr != nil {
				return fmt.Errorf("%s/%s: %w", bucket, k, uerr)
			}

			out = append(out, item)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("all | %w", err)
	}

	return out, nil
}

// notes

func (s *Store) GetNote(id string) (*NoteData, error) {
	var n NoteData

	ok, err := s.get(NoteStore, NoteKey(id), &n)
	if err != nil || !ok {
		return nil, err
	}

	return &n, nil
}

func (s *Store) SetNote(note *NoteData) error {
	if err := s.check(schemas.NoteData, note); err != nil {
		return err
	}

	return s.set(NoteStore, NoteKey(note.ID), note)
}

func (s *Store) DeleteNote(id string) error {
	return s.delete(NoteStore, NoteKey(id))
}

func (s *Store) GetAllNotes() ([]NoteData, error) {
	return all[NoteData](s, NoteStore, notePrefix)
}

func (s *Store) GetLocalNote(id string) (*NoteData, error) {
	var n NoteData

	ok, err := s.get(NoteLocalStore, NoteKey(id), &n)
	if err != nil || !ok {
		return nil, err
	}

	return &n, nil
}

func (s *Store) SetLocalNote(note *NoteData) error {
	if err := s.check(schemas.NoteData, note); err != nil {
		return err
	}

	return s.set(NoteLocalStore, NoteKey(note.ID), note)
}

func (s *Store) DeleteLocalNote(id string) error {
	return s.delete(NoteLocalStore, NoteKey(id))
}

func (s *Store) GetAllLocalNotes() ([]NoteData, error) {
	return all[NoteData](s, NoteLocalStore, notePrefix)
}

// DeleteRemoteNote records a tombstone for a note known to the server.
func (s *Store) DeleteRemoteNote(id string) error {
	return s.set(NoteDeletedStore, NoteKey(id), id)
}

func (s *Store) ClearDeleteRemoteNote(id string) error {
	return s.delete(NoteDeletedStore, NoteKey(id))
}

func (s *Store) IsNoteDeleted(id string) (bool, error) {
	var v string

	return s.get(NoteDeletedStore, NoteKey(id), &v)
}

func (s *Store) GetAllDeletedNotes() ([]string, error) {
	return all[string](s, NoteDeletedStore, notePrefix)
}

// keys

func (s *Store) GetKey(id string) (*KeyData, error) {
	var k KeyData

	ok, err := s.get(KeyStore, KeyKey(id), &k)
	if err != nil || !ok {
		return nil, err
	}

	return &k, nil
}

func (s *Store) SetKey(key *KeyData) error {
	if err := s.check(schemas.KeyData, key); err != nil {
		return err
	}

	return s.set(KeyStore, KeyKey(key.ID), key)
}

func (s *Store) DeleteKey(id string) error {
	return s.delete(KeyStore, KeyKey(id))
}

func (s *Store) GetAllKeys() ([]KeyData, error) {
	return all[KeyData](s, KeyStore, keyPrefix)
}

func (s *Store) GetLocalKey(id string) (*KeyData, error) {
	var k KeyData

	ok, err := s.get(KeyLocalStore, KeyKey(id), &k)
	if err != nil || !ok {
		return nil, err
	}

	return &k, nil
}

func (s *Store) SetLocalKey(key *KeyData) error {
	if err := s.check(schemas.KeyData, key); err != nil {
		return err
	}

	return s.set(KeyLocalStore, KeyKey(key.ID), key)
}

func (s *Store) DeleteLocalKey(id string) error {
	return s.delete(KeyLocalStore, KeyKey(id))
}

func (s *Store) GetAllLocalKeys() ([]KeyData, error) {
	return all[KeyData](s, KeyLocalStore, keyPrefix)
}

func (s *Store) DeleteRemoteKey(id string) error {
	return s.set(KeyDeletedStore, KeyKey(id), id)
}

func (s *Store) ClearDeleteRemoteKey(id string) error {
	return s.delete(KeyDeletedStore, KeyKey(id))
}

func (s *Store) GetAllDeletedKeys() ([]string, error) {
	return all[string](s, KeyDeletedStore, keyPrefix)
}

// user-store singletons

func (s *Store) GetLastSync() (LastSync, error) {
	var ls LastSync

	_, err := s.get(UserStore, KeyLastSync, &ls)

	return ls, err
}

func (s *Store) SetLastSync(noteSync, keySync int64) error {
	return s.set(UserStore, KeyLastSync, LastSync{NoteSync: noteSync, KeySync: keySync})
}

func (s *Store) GetLocalData() (*LocalData, error) {
	var d LocalData

	ok, err := s.get(UserStore, KeyLocalData, &d)
	if err != nil || !ok {
		return nil, err
	}

	return &d, nil
}

func (s *Store) SetLocalData(d LocalData) error {
	return s.set(UserStore, KeyLocalData, d)
}

func (s *Store) GetLocalState() (*LocalState, error) {
	var d LocalState

	ok, err := s.get(UserStore, KeyLocalState, &d)
	if err != nil || !ok {
		return nil, err
	}

	return &d, nil
}

func (s *Store) SetLocalState(d LocalState) error {
	if err := s.check(schemas.LocalState, d); err != nil {
		return err
	}

	return s.set(UserStore, KeyLocalState, d)
}

func (s *Store) GetUserStats() (*UserStats, error) {
	var d UserStats

	ok, err := s.get(UserStore, KeyUserStats, &d)
	if err != nil || !ok {
		return nil, err
	}

	return &d, nil
}

func (s *Store) SetUserStats(d UserStats) error {
	return s.set(UserStore, KeyUserStats, d)
}

func (s *Store) GetInitializationData() (*InitializationData, error) {
	var d InitializationData

	ok, err := s.get(UserStore, KeyInitializationData, &d)
	if err != nil || !ok {
		return nil, err
	}

	return &d, nil
}

func (s *Store) SetInitializationData(d InitializationData) error {
	if err := s.check(schemas.InitializationData, d); err != nil {
		return err
	}

	return s.set(UserStore, KeyInitializationData, d)
}

func (s *Store) DeleteInitializationData() error {
	return s.delete(UserStore, KeyInitializationData)
}

func (s *Store) GetLocalUserData() (*LocalUserData, error) {
	var d LocalUserData

	ok, err := s.get(UserStore, KeyLocalUserData, &d)
	if err != nil || !ok {
		return nil, err
	}

	return &d, nil
}

func (s *Store) SetLocalUserData(d LocalUserData) error {
	return s.set(UserStore, KeyLocalUserData, d)
}

func (s *Store) DeleteLocalUserData() error {
	return s.delete(UserStore, KeyLocalUserData)
}

func (s *Store) GetUserData() (*UserData, error) {
	var d UserData

	ok, err := s.get(UserStore, KeyUserData, &d)
	if err != nil || !ok {
		return nil, err
	}

	return &d, nil
}

func (s *Store) SetUserData(d UserData) error {
	return s.set(UserStore, KeyUserData, d)
}
