package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// localConfig is the part of configure.yaml that depends on n.
type localConfig struct {
	Nodes          []string `yaml:"Nodes"`
	TriggerPorts   []int    `yaml:"TriggerPorts"`
	LogFile        string   `yaml:"LogFile"`
	LogLevel       string   `yaml:"LogLevel"`
	OutputDir      string   `yaml:"OutputDir"`
	SinkType       string   `yaml:"SinkType"`
	DBPath         string   `yaml:"DBPath"`
	Messages       int      `yaml:"Messages"`
	MaxJitterMs    int      `yaml:"MaxJitterMs"`
	SendIntervalMs int      `yaml:"SendIntervalMs"`
}

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Println("Usage: go run generateIPs.go <n> [output]")
		return
	}

	n, err := strconv.Atoi(os.Args[1])
	if err != nil || n <= 0 {
		fmt.Println("Invalid value for n. Please provide a positive integer.")
		return
	}
	output := "configure.yaml"
	if len(os.Args) == 3 {
		output = os.Args[2]
	}

	baseIP := "127.0.0.1:"
	basePort := 7000
	baseTriggerPort := 1233

	cfg := localConfig{
		LogFile:        "log",
		LogLevel:       "info",
		OutputDir:      "output",
		SinkType:       "both",
		DBPath:         "db",
		Messages:       100,
		MaxJitterMs:    10,
		SendIntervalMs: 50,
	}
	for i := 1; i <= n; i++ {
		cfg.Nodes = append(cfg.Nodes, fmt.Sprintf("%s%d", baseIP, basePort+i))
		cfg.TriggerPorts = append(cfg.TriggerPorts, baseTriggerPort+i)
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		panic(err)
	}
	if err := os.WriteFile(output, out, 0644); err != nil {
		fmt.Println("Error creating file:", err)
		return
	}
	fmt.Println("wrote", output, "for", n, "processes:", cfg.Nodes)
}
