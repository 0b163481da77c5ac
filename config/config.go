package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTopology marks configuration errors found before any
// networking starts.
var ErrInvalidTopology = errors.New("invalid topology")

type Config struct {
	ID int `yaml:"-"`

	// Nodes lists the listen address of every process; process id
	// listens on Nodes[id-1].
	Nodes []string `yaml:"Nodes"`
	// PeerIPs and PeerPorts are an alternative to Nodes: the addresses
	// of the other processes only, in id order, split in two lists.
	// ListenPort is then this process's own port.
	PeerIPs    []string `yaml:"PeerIPs"`
	PeerPorts  []int    `yaml:"PeerPorts"`
	ListenHost string   `yaml:"ListenHost"`
	ListenPort int      `yaml:"ListenPort"`

	TriggerPorts []int `yaml:"TriggerPorts"`
	TriggerPort  int   `yaml:"TriggerPort"`

	LogFile   string `yaml:"LogFile"`
	LogLevel  string `yaml:"LogLevel"`
	OutputDir string `yaml:"OutputDir"`
	SinkType  string `yaml:"SinkType"` // file, leveldb or both
	DBPath    string `yaml:"DBPath"`

	Messages       int `yaml:"Messages"`
	MaxJitterMs    int `yaml:"MaxJitterMs"`
	SendIntervalMs int `yaml:"SendIntervalMs"`
	InboxSize      int `yaml:"InboxSize"`
	DialAttempts   int `yaml:"DialAttempts"`
	DialMaxWaitMs  int `yaml:"DialMaxWaitMs"`
	StartTimeoutS  int `yaml:"StartTimeoutS"`
}

func defaults() Config {
	return Config{
		ListenHost:     "127.0.0.1",
		TriggerPort:    1234,
		LogLevel:       "info",
		OutputDir:      ".",
		SinkType:       "file",
		DBPath:         "db",
		Messages:       100,
		MaxJitterMs:    10,
		SendIntervalMs: 50,
		InboxSize:      1024,
		DialAttempts:   20,
		DialMaxWaitMs:  1000,
		StartTimeoutS:  60,
	}
}

// Load reads a yaml configuration file for process id.
func Load(path string, id int) (*Config, error) {
	readBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaults()
	if err := yaml.Unmarshal(readBytes, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ID = id
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromArgs builds a configuration from a listen port and the
// host:port of every other process, in id order.
func FromArgs(id int, port int, peers []string) (*Config, error) {
	cfg := defaults()
	cfg.ID = id
	cfg.ListenPort = port
	for _, p := range peers {
		host, portStr, err := net.SplitHostPort(p)
		if err != nil {
			return nil, fmt.Errorf("%w: peer %q: %v", ErrInvalidTopology, p, err)
		}
		peerPort, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: peer %q: bad port", ErrInvalidTopology, p)
		}
		cfg.PeerIPs = append(cfg.PeerIPs, host)
		cfg.PeerPorts = append(cfg.PeerPorts, peerPort)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the topology and fills Nodes when the configuration
// uses PeerIPs and PeerPorts.
func (cfg *Config) Validate() error {
	if len(cfg.Nodes) == 0 {
		if len(cfg.PeerIPs) != len(cfg.PeerPorts) {
			return fmt.Errorf("%w: %d peer addresses but %d peer ports", ErrInvalidTopology, len(cfg.PeerIPs), len(cfg.PeerPorts))
		}
		if cfg.ID < 1 || cfg.ID > len(cfg.PeerIPs)+1 {
			return fmt.Errorf("%w: id %d outside 1..%d", ErrInvalidTopology, cfg.ID, len(cfg.PeerIPs)+1)
		}
		own := net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.ListenPort))
		nodes := make([]string, 0, len(cfg.PeerIPs)+1)
		for i := range cfg.PeerIPs {
			if len(nodes) == cfg.ID-1 {
				nodes = append(nodes, own)
			}
			nodes = append(nodes, net.JoinHostPort(cfg.PeerIPs[i], strconv.Itoa(cfg.PeerPorts[i])))
		}
		if len(nodes) == cfg.ID-1 {
			nodes = append(nodes, own)
		}
		cfg.Nodes = nodes
	}

	if cfg.ID < 1 || cfg.ID > len(cfg.Nodes) {
		return fmt.Errorf("%w: id %d outside 1..%d", ErrInvalidTopology, cfg.ID, len(cfg.Nodes))
	}
	seen := make(map[string]int, len(cfg.Nodes))
	for i, addr := range cfg.Nodes {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("%w: node %d address %q: %v", ErrInvalidTopology, i+1, addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: node %d address %q: bad port", ErrInvalidTopology, i+1, addr)
		}
		if host == "" {
			return fmt.Errorf("%w: node %d address %q: missing host", ErrInvalidTopology, i+1, addr)
		}
		if j, dup := seen[addr]; dup {
			return fmt.Errorf("%w: nodes %d and %d share address %s", ErrInvalidTopology, j, i+1, addr)
		}
		seen[addr] = i + 1
	}
	if len(cfg.TriggerPorts) > 0 && len(cfg.TriggerPorts) != len(cfg.Nodes) {
		return fmt.Errorf("%w: %d trigger ports for %d nodes", ErrInvalidTopology, len(cfg.TriggerPorts), len(cfg.Nodes))
	}
	switch cfg.SinkType {
	case "file", "leveldb", "both":
	default:
		return fmt.Errorf("unknown SinkType %q", cfg.SinkType)
	}
	return nil
}

// N is the size of the group.
func (cfg *Config) N() int {
	return len(cfg.Nodes)
}

func (cfg *Config) ListenAddr() string {
	return cfg.Nodes[cfg.ID-1]
}

// TriggerAddr is where this process waits for START.
func (cfg *Config) TriggerAddr() string {
	host, _, _ := net.SplitHostPort(cfg.ListenAddr())
	port := cfg.TriggerPort
	if len(cfg.TriggerPorts) > 0 {
		port = cfg.TriggerPorts[cfg.ID-1]
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (cfg *Config) MaxJitter() time.Duration {
	return time.Duration(cfg.MaxJitterMs) * time.Millisecond
}

func (cfg *Config) SendInterval() time.Duration {
	return time.Duration(cfg.SendIntervalMs) * time.Millisecond
}

func (cfg *Config) DialMaxWait() time.Duration {
	return time.Duration(cfg.DialMaxWaitMs) * time.Millisecond
}

func (cfg *Config) StartTimeout() time.Duration {
	return time.Duration(cfg.StartTimeoutS) * time.Second
}
