package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config is the YAML-driven configuration for the demo echo endpoint,
// following tinyrange-cc's thin-main-wires-packages cmd/ idiom
// (cmd/cc-helper) but trading its flag/env-driven VM config for a small
// YAML file read via gopkg.in/yaml.v3.
type config struct {
	ListenAddr string `yaml:"listen_addr"`
	ListenPort uint16 `yaml:"listen_port"`

	BufferSize int `yaml:"buffer_size"`

	Congestion string `yaml:"congestion"` // "none", "reno", or "cubic"

	AckDelayMS   int  `yaml:"ack_delay_ms"`
	KeepAliveSec int  `yaml:"keep_alive_sec"`
	NagleEnabled bool `yaml:"nagle_enabled"`

	PcapPath string `yaml:"pcap_path"`
}

func defaultConfig() config {
	return config{
		ListenAddr:   "10.0.0.1",
		ListenPort:   7,
		BufferSize:   64 * 1024,
		Congestion:   "reno",
		AckDelayMS:   0,
		KeepAliveSec: 0,
		NagleEnabled: true,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("tcpecho: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("tcpecho: parse config: %w", err)
	}
	return cfg, nil
}

func (c config) ackDelay() *time.Duration {
	if c.AckDelayMS <= 0 {
		return nil
	}
	d := time.Duration(c.AckDelayMS) * time.Millisecond
	return &d
}

func (c config) keepAlive() *time.Duration {
	if c.KeepAliveSec <= 0 {
		return nil
	}
	d := time.Duration(c.KeepAliveSec) * time.Second
	return &d
}

func parseIPv4(s string) [4]byte {
	var a, b, cOct, d int
	fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &cOct, &d)
	return [4]byte{byte(a), byte(b), byte(cOct), byte(d)}
}
