package leveldb

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = leveldb.ErrNotFound

type DB struct {
	path string
	db   *leveldb.DB
}

func CreateDB(path string) *DB {
	return &DB{path: path}
}

func (db *DB) Open() error {
	ldb, err := leveldb.OpenFile(db.path, nil)
	if err != nil {
		return err
	}
	db.db = ldb
	return nil
}

func (db *DB) Put(key []byte, value []byte) error {
	return db.db.Put(key, value, nil)
}

func (db *DB) Get(key []byte) ([]byte, error) {
	return db.db.Get(key, nil)
}

func (db *DB) Has(key []byte) (bool, error) {
	return db.db.Has(key, nil)
}

// PutBatch writes all pairs atomically.
func (db *DB) PutBatch(pairs map[string][]byte) error {
	batch := new(leveldb.Batch)
	for k, v := range pairs {
		batch.Put([]byte(k), v)
	}
	return db.db.Write(batch, nil)
}

// Keys returns every key starting with prefix, in key order.
func (db *DB) Keys(prefix []byte) ([]string, error) {
	iter := db.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	return keys, iter.Error()
}

func (db *DB) Close() error {
	if db.db == nil {
		return errors.New("leveldb: not open")
	}
	return db.db.Close()
}
