package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/causal"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/config"
	db "github.com/IamArmanNikkhah/Causality-order-broadcasting/database"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/network/link"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/network/mesh"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/trigger"
)

type CbNode struct {
	Cfg   *config.Config
	CbLog log.CbLog
	Sink  causal.Sink
	Net   *mesh.MeshNetwork
	Proc  *causal.Process
}

func main() {
	var idf = flag.Int("id", 0, "process id, 1..N")
	var cfgf = flag.String("config", "", "path of configure.yaml")
	var portf = flag.Int("port", 0, "listen port, with the other processes' ip:port as arguments")
	flag.Parse()

	cfg, err := loadConfig(*idf, *cfgf, *portf, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var node CbNode
	node.Cfg = cfg
	if err := node.Run(ctx); err != nil {
		node.CbLog.Z().Error().Err(err).Msg("node stopped")
		fmt.Fprintln(os.Stderr, "node stopped:", err)
		os.Exit(1)
	}
}

func loadConfig(id int, path string, port int, peers []string) (*config.Config, error) {
	if path != "" {
		return config.Load(path, id)
	}
	if port == 0 {
		return nil, fmt.Errorf("either -config or -port with peers is required")
	}
	return config.FromArgs(id, port, peers)
}

func (node *CbNode) Run(ctx context.Context) error {
	cfg := node.Cfg

	logFile := cfg.LogFile
	if logFile != "" {
		if err := os.MkdirAll(logFile, 0755); err != nil {
			return err
		}
		logFile = filepath.Join(logFile, fmt.Sprintf("cb%d.log", cfg.ID))
	}
	node.CbLog = log.Init(logFile, cfg.LogLevel)
	nodeLog := node.CbLog.With("node").WithInt("id", cfg.ID)
	nodeLog.Z().Info().Int("n", cfg.N()).Str("addr", cfg.ListenAddr()).Msg("starting")

	sink, err := node.openSink()
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	node.Sink = sink
	defer node.Sink.Close()

	// the trigger port is bound before the mesh so a START sent early is
	// not refused
	triggerLn, err := net.Listen("tcp", cfg.TriggerAddr())
	if err != nil {
		return fmt.Errorf("listen for trigger: %w", err)
	}

	node.Net = mesh.NewMeshNetwork(cfg.ID, cfg.Nodes, link.Options{Jitter: cfg.MaxJitter()}, node.CbLog)
	node.Net.DialAttempts = cfg.DialAttempts
	node.Net.DialMaxWait = cfg.DialMaxWait()
	startCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout())
	err = node.Net.Start(startCtx)
	cancel()
	if err != nil {
		triggerLn.Close()
		node.Net.Close()
		return err
	}

	node.Proc = causal.NewProcess(cfg.ID, cfg.N(), node.Net, node.Sink, cfg.InboxSize, node.CbLog)
	node.Proc.StartReceiving()
	defer node.Proc.Close()

	nodeLog.Info("waiting for " + trigger.Start + " on " + cfg.TriggerAddr())
	if err := trigger.Wait(ctx, triggerLn, node.CbLog); err != nil {
		return err
	}

	startTime := time.Now()
	for k := 1; k <= cfg.Messages; k++ {
		node.Proc.Broadcast(fmt.Sprintf("Message %d from Process %d", k, cfg.ID))
		if k < cfg.Messages && cfg.SendInterval() > 0 {
			select {
			case <-time.After(cfg.SendInterval()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	nodeLog.Z().Info().Int("messages", cfg.Messages).Msg("all messages handed to the round gate")

	if err := node.Proc.WaitRound(ctx, cfg.Messages); err != nil {
		return fmt.Errorf("waiting for round %d: %w, state %+v", cfg.Messages, err, node.Proc.Status())
	}
	duration := time.Since(startTime)
	st := node.Proc.Status()
	nodeLog.Z().Info().
		Int("rounds", st.Round).
		Int("delivered", st.Delivered).
		Str("clock", st.Clock.String()).
		Float64("seconds", duration.Seconds()).
		Float64("rounds/sec", float64(st.Round)/duration.Seconds()).
		Msg("finished")
	return nil
}

func (node *CbNode) openSink() (causal.Sink, error) {
	cfg := node.Cfg
	var sinks db.MultiSink
	if cfg.SinkType == "file" || cfg.SinkType == "both" {
		fs, err := db.OpenFileSink(cfg.OutputDir, cfg.ID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if cfg.SinkType == "leveldb" || cfg.SinkType == "both" {
		var cbdb db.CbDB
		if err := cbdb.Init(filepath.Join(cfg.DBPath, fmt.Sprint(cfg.ID)), node.CbLog); err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, &cbdb)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
