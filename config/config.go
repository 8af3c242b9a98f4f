// Copyright (c) 2024 The horm-database Authors. All rights reserved.
// This file Author:  CaoHao <18500482693@163.com> .
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the transport's server configuration from a yaml
// file, the way the rest of this corpus loads its server.yaml.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coldbase/rpctransport/log"
	"github.com/coldbase/rpctransport/registry"
	"github.com/coldbase/rpctransport/wire"
)

const (
	defaultIdleTimeout = 60000 // ms
	maxCloseWaitTime   = 10 * time.Second
)

// Config is the top-level server configuration.
type Config struct {
	Machine   string `yaml:"machine"`    // host/container name, for logging
	MachineID int    `yaml:"machine_id"` // small integer identifying this instance

	Server struct {
		Name             string `yaml:"name"`
		Locator          string `yaml:"locator"`             // e.g. "tcp:host=0.0.0.0,port=11111"
		CloseWaitTime    int    `yaml:"close_wait_time"`     // wait after deregistering, ms
		MaxCloseWaitTime int    `yaml:"max_close_wait_time"` // max wait for in-flight RPCs to drain, ms
		IdleTime         int    `yaml:"idle_time"`           // per-connection idle timeout, ms
		EventLoopNum     int    `yaml:"event_loop_num"`      // gnet loop count; 0 = one per core
		MaxRPCLen        int    `yaml:"max_rpc_len"`         // 0 = wire.MaxRPCLen
		TCPNoDelay       bool   `yaml:"tcp_nodelay"`
		ReusePort        bool   `yaml:"reuse_port"`
	} `yaml:"server"`

	Log log.Config `yaml:"log"`

	// Register is the optional etcd-backed naming configuration. Nil means
	// this instance only listens and never registers itself.
	Register *registry.Config `yaml:"register"`
}

var global atomic.Value

// Get returns the process-wide Config loaded by Load.
func Get() *Config {
	v, _ := global.Load().(*Config)
	return v
}

// Load reads and parses a yaml config file at path, applies defaults, and
// stores the result as the process-wide Config.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Server.IdleTime == 0 {
		cfg.Server.IdleTime = defaultIdleTimeout
	}
	if cfg.Server.MaxCloseWaitTime == 0 {
		cfg.Server.MaxCloseWaitTime = int(maxCloseWaitTime.Milliseconds())
	}
	if cfg.Server.MaxRPCLen > 0 {
		wire.MaxRPCLen = uint32(cfg.Server.MaxRPCLen)
	}

	global.Store(cfg)
	return cfg, nil
}
