package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/config"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/trigger"
)

// Sends START to every process. Addresses come from the arguments, or
// from the trigger ports of a configuration file.
func main() {
	var cfgf = flag.String("config", "", "path of configure.yaml")
	var timeoutf = flag.Duration("timeout", 5*time.Second, "give up after this long")
	flag.Parse()

	addrs := flag.Args()
	if *cfgf != "" {
		cfg, err := config.Load(*cfgf, 1)
		if err != nil {
			fmt.Fprintln(os.Stderr, "configuration error:", err)
			os.Exit(2)
		}
		for id := 1; id <= cfg.N(); id++ {
			cfg.ID = id
			addrs = append(addrs, cfg.TriggerAddr())
		}
	}
	if len(addrs) == 0 {
		fmt.Println("Usage: trigger [-config configure.yaml] [host:port ...]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutf)
	defer cancel()
	if err := trigger.SendAll(ctx, addrs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("sent", trigger.Start, "to", len(addrs), "processes")
}
