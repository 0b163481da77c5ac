package database

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cbergoon/merkletree"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/causal"
	leveldb "github.com/IamArmanNikkhah/Causality-order-broadcasting/database/leveldb"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
)

// CbDB keeps every flushed batch in leveldb, keyed by round, together with
// the merkle root of the batch contents. Processes that delivered the same
// round in the same order store the same root.
type CbDB struct {
	db   *leveldb.DB
	lock sync.Mutex
	late int
	Log  log.CbLog
}

func batchKey(round int) []byte {
	return []byte(fmt.Sprintf("batch/%010d", round))
}

func rootKey(round int) []byte {
	return []byte(fmt.Sprintf("root/%010d", round))
}

func lateKey(round int, seq int) string {
	return fmt.Sprintf("late/%010d/%06d", round, seq)
}

func (db *CbDB) Init(path string, dblog log.CbLog) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	db.Log = dblog.With("database")
	ldb := leveldb.CreateDB(path)
	if err := ldb.Open(); err != nil {
		return fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	db.db = ldb
	return nil
}

func (db *CbDB) Append(b causal.Batch) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	lines := b.Lines()
	value := []byte(strings.Join(lines, "\n"))

	if b.Late {
		db.late++
		err := db.db.Put([]byte(lateKey(b.Round, db.late)), value)
		if err != nil {
			db.Log.Warn("Database error: " + err.Error())
		}
		return err
	}

	root, err := MerkleRoot(lines)
	if err != nil {
		return err
	}
	err = db.db.PutBatch(map[string][]byte{
		string(batchKey(b.Round)): value,
		string(rootKey(b.Round)):  root,
	})
	if err != nil {
		db.Log.Warn("Database error: " + err.Error())
	}
	return err
}

// FindWithRound returns the contents flushed in round, in delivery order.
func (db *CbDB) FindWithRound(round int) ([]string, error) {
	value, err := db.db.Get(batchKey(round))
	if err != nil {
		return nil, err
	}
	return strings.Split(string(value), "\n"), nil
}

// RootOf returns the merkle root stored for round.
func (db *CbDB) RootOf(round int) ([]byte, error) {
	return db.db.Get(rootKey(round))
}

// Rounds returns how many complete rounds are stored.
func (db *CbDB) Rounds() (int, error) {
	keys, err := db.db.Keys([]byte("batch/"))
	return len(keys), err
}

func (db *CbDB) Close() error {
	return db.db.Close()
}

type line string

func (l line) CalculateHash() ([]byte, error) {
	h := sha256.Sum256([]byte(l))
	return h[:], nil
}

func (l line) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(line)
	if !ok {
		return false, errors.New("value is not of type line")
	}
	return l == o, nil
}

// MerkleRoot hashes an ordered list of lines into a single root.
func MerkleRoot(lines []string) ([]byte, error) {
	contents := make([]merkletree.Content, len(lines))
	for i, l := range lines {
		contents[i] = line(l)
	}
	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, err
	}
	return tree.MerkleRoot(), nil
}
