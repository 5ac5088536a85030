package internal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	govnc "github.com/openrv/govnc"
)

// Config is the CLI front-end's profile file: a set of named server
// connection profiles a host picks from by name, mirroring the teacher's
// flat internal/config.go struct-tag/LoadConfig pattern.
type Config struct {
	Profiles map[string]Profile `yaml:"profiles"`
	Metrics  MetricsConfig      `yaml:"metrics"`
}

// Profile is one named server to connect to.
type Profile struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	ViewOnly bool   `yaml:"view_only"`
	Quality  string `yaml:"quality"` // "low", "medium", "best", "custom"
	Shared   bool   `yaml:"shared"`
	Scheme   string `yaml:"scheme"` // "tcp", "ws", "wss"
	WSPath   string `yaml:"ws_path"`
	Fwmark   uint32 `yaml:"fwmark"`
}

type MetricsConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9115"
	}
	for name, p := range c.Profiles {
		if p.Port == 0 {
			p.Port = 5900
		}
		if p.Quality == "" {
			p.Quality = "best"
		}
		if p.Scheme == "" {
			p.Scheme = "tcp"
		}
		c.Profiles[name] = p
	}
	return &c, nil
}

// ToConnectionConfig resolves a profile into the public govnc.ConnectionConfig.
func (p Profile) ToConnectionConfig() (govnc.ConnectionConfig, error) {
	cfg := govnc.ConnectionConfig{
		Host:     p.Host,
		Port:     p.Port,
		Password: p.Password,
		ViewOnly: p.ViewOnly,
		Shared:   p.Shared,
		Fwmark:   p.Fwmark,
	}
	switch p.Quality {
	case "low":
		cfg.Quality = govnc.QualityLow
	case "medium":
		cfg.Quality = govnc.QualityMedium
	case "custom":
		cfg.Quality = govnc.QualityCustom
	default:
		cfg.Quality = govnc.QualityBest
	}
	switch p.Scheme {
	case "ws":
		cfg.Scheme = govnc.SchemeWebSocket
		cfg.WebSocketPath = p.WSPath
	case "wss":
		cfg.Scheme = govnc.SchemeWebSocketTLS
		cfg.WebSocketPath = p.WSPath
	case "tcp", "":
		cfg.Scheme = govnc.SchemeTCP
	default:
		return cfg, fmt.Errorf("unknown scheme %q", p.Scheme)
	}
	return cfg, nil
}
