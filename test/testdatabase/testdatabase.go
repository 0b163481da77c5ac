package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/config"
	db "github.com/IamArmanNikkhah/Causality-order-broadcasting/database"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
)

// Compares the rounds stored by every process after a run. Processes
// that delivered a round identically store the same merkle root for it.
type DBtest struct {
	Cfg   *config.Config
	CbDBs []*db.CbDB
	CbLog log.CbLog
}

func main() {
	var cfgf = flag.String("config", "configure.yaml", "path of configure.yaml")
	var showf = flag.Int("show", -1, "print the contents of this round for every process")
	flag.Parse()

	cfg, err := config.Load(*cfgf, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	var dbTest DBtest
	dbTest.Cfg = cfg
	dbTest.CbLog = log.Init("", "warn")
	if err := dbTest.Open(); err != nil {
		panic(err)
	}
	defer dbTest.Close()

	if *showf >= 0 {
		dbTest.Show(*showf)
		return
	}
	if !dbTest.CompareRoots() {
		os.Exit(1)
	}
}

func (dbt *DBtest) Open() error {
	for id := 1; id <= dbt.Cfg.N(); id++ {
		var cbdb db.CbDB
		if err := cbdb.Init(filepath.Join(dbt.Cfg.DBPath, fmt.Sprint(id)), dbt.CbLog); err != nil {
			return fmt.Errorf("process %d: %w", id, err)
		}
		dbt.CbDBs = append(dbt.CbDBs, &cbdb)
	}
	return nil
}

func (dbt *DBtest) Close() {
	for _, cbdb := range dbt.CbDBs {
		cbdb.Close()
	}
}

// CompareRoots reports whether every process stored the same root for
// every round that all of them completed.
func (dbt *DBtest) CompareRoots() bool {
	common := -1
	for i, cbdb := range dbt.CbDBs {
		rounds, err := cbdb.Rounds()
		if err != nil {
			panic(err)
		}
		fmt.Printf("process %d: %d rounds\n", i+1, rounds)
		if common < 0 || rounds < common {
			common = rounds
		}
	}

	for round := 0; round < common; round++ {
		ref, err := dbt.CbDBs[0].RootOf(round)
		if err != nil {
			panic(err)
		}
		for i, cbdb := range dbt.CbDBs[1:] {
			root, err := cbdb.RootOf(round)
			if err != nil {
				panic(err)
			}
			if !bytes.Equal(ref, root) {
				fmt.Printf("round %d differs: process 1 has %s, process %d has %s\n",
					round, hex.EncodeToString(ref), i+2, hex.EncodeToString(root))
				return false
			}
		}
	}
	fmt.Println("all processes agree on", common, "rounds")
	return true
}

func (dbt *DBtest) Show(round int) {
	for i, cbdb := range dbt.CbDBs {
		lines, err := cbdb.FindWithRound(round)
		if err != nil {
			fmt.Printf("process %d: %v\n", i+1, err)
			continue
		}
		fmt.Printf("process %d:\n", i+1)
		for _, l := range lines {
			fmt.Println("  ", l)
		}
	}
}
