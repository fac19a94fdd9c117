package mapsync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type StrategyKind string

const (
	// server-authoritative request/ack
	StrategyRpc StrategyKind = "rpc"
	// locally replicated document
	StrategyCrdt StrategyKind = "crdt"
)

type WsSettings struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	SendBufferSize   int           `yaml:"send_buffer_size"`
}

func DefaultWsSettings() WsSettings {
	return WsSettings{
		HandshakeTimeout: 5 * time.Second,
		ReconnectTimeout: 5 * time.Second,
		PingTimeout:      10 * time.Second,
		WriteTimeout:     5 * time.Second,
		// must be greater than the peer's ping timeout
		ReadTimeout:    30 * time.Second,
		SendBufferSize: 64,
	}
}

type RpcStrategySettings struct {
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	HistoryCapacity int           `yaml:"history_capacity"`
}

func DefaultRpcStrategySettings() RpcStrategySettings {
	return RpcStrategySettings{
		AckTimeout:      15 * time.Second,
		HistoryCapacity: 100,
	}
}

type CrdtStrategySettings struct {
	// local transactions closer together than this merge into one undo step. 0 disables merging.
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	// the local awareness state is re-announced at this interval
	AwarenessRenewInterval time.Duration `yaml:"awareness_renew_interval"`
	// remote awareness states not renewed within this timeout are dropped
	AwarenessTimeout time.Duration `yaml:"awareness_timeout"`
}

func DefaultCrdtStrategySettings() CrdtStrategySettings {
	return CrdtStrategySettings{
		CaptureTimeout:         0,
		AwarenessRenewInterval: 15 * time.Second,
		AwarenessTimeout:       30 * time.Second,
	}
}

type MapSyncSettings struct {
	Strategy StrategyKind `yaml:"strategy"`
	// event endpoint of the server-authoritative strategy
	RpcUrl string `yaml:"rpc_url"`
	// base url of the replication endpoint. The map id is appended as the last path segment.
	CrdtUrl string `yaml:"crdt_url"`
	// map storage service, used to delete replicated maps
	ApiUrl string `yaml:"api_url"`
	// preferred presence color. Collisions resolve to a random color.
	Color string `yaml:"color"`
	// minimum time between recoverable error notifications
	NotificationInterval time.Duration `yaml:"notification_interval"`

	Ws   WsSettings           `yaml:"ws"`
	Rpc  RpcStrategySettings  `yaml:"rpc"`
	Crdt CrdtStrategySettings `yaml:"crdt"`
}

func DefaultMapSyncSettings() *MapSyncSettings {
	return &MapSyncSettings{
		Strategy:             StrategyRpc,
		Color:                RandomColor(),
		NotificationInterval: 5 * time.Second,
		Ws:                   DefaultWsSettings(),
		Rpc:                  DefaultRpcStrategySettings(),
		Crdt:                 DefaultCrdtStrategySettings(),
	}
}

// reads a yaml settings file over the defaults. Durations are strings, e.g. "5s".
func LoadSettings(path string) (*MapSyncSettings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSettings(b)
}

func ParseSettings(b []byte) (*MapSyncSettings, error) {
	settings := DefaultMapSyncSettings()
	if err := yaml.Unmarshal(b, settings); err != nil {
		return nil, fmt.Errorf("Could not parse settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (self *MapSyncSettings) Validate() error {
	switch self.Strategy {
	case StrategyRpc:
		if self.RpcUrl == "" {
			return fmt.Errorf("Strategy %s requires rpc_url.", self.Strategy)
		}
	case StrategyCrdt:
		if self.CrdtUrl == "" {
			return fmt.Errorf("Strategy %s requires crdt_url.", self.Strategy)
		}
	default:
		return fmt.Errorf("Unknown strategy: %s", self.Strategy)
	}
	if self.Color != "" && !IsValidColor(self.Color) {
		return fmt.Errorf("Invalid color: %s", self.Color)
	}
	if self.Crdt.AwarenessTimeout <= self.Crdt.AwarenessRenewInterval {
		return fmt.Errorf("Awareness timeout must exceed the renew interval: %s <= %s", self.Crdt.AwarenessTimeout, self.Crdt.AwarenessRenewInterval)
	}
	if self.Rpc.HistoryCapacity <= 0 {
		return fmt.Errorf("History capacity must be positive: %d", self.Rpc.HistoryCapacity)
	}
	return nil
}
