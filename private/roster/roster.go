// Copyright 2024 The p4rt-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package roster loads the TOML fleet description consumed by p4ctl: which
// switches to manage, where to reach them and which pipeline they run.
package roster

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/p4rt-go/p4rt/pkg/log"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// Duration parses TOML duration strings such as "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return serrors.Wrap("parsing duration", err, "value", string(b))
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Switch describes one managed switch.
type Switch struct {
	// Name identifies the switch; must be unique in the roster.
	Name string `toml:"name"`
	// Target is the gRPC address of the P4Runtime server.
	Target string `toml:"target"`
	// DeviceID is the P4Runtime device id.
	DeviceID uint64 `toml:"device_id"`
	// P4Info is the path to the prototext pipeline schema.
	P4Info string `toml:"p4info"`
	// DeviceConfig is the path to the target-specific pipeline blob.
	DeviceConfig string `toml:"device_config,omitempty"`
	// Role is the P4Runtime role name; empty for the default role.
	Role string `toml:"role,omitempty"`
	// ElectionID is the proposed election id (low word).
	ElectionID uint64 `toml:"election_id"`
}

// Config is the top-level p4ctl configuration.
type Config struct {
	Logging log.Config `toml:"log,omitempty"`
	// FailFast stops the whole fleet when one switch fails fatally.
	FailFast bool `toml:"fail_fast,omitempty"`
	// DialTimeout bounds each connection attempt.
	DialTimeout Duration `toml:"dial_timeout,omitempty"`
	Switches    []Switch `toml:"switches"`
}

// InitDefaults fills in defaults for unset values.
func (c *Config) InitDefaults() {
	c.Logging.InitDefaults()
	if c.DialTimeout.Duration <= 0 {
		c.DialTimeout.Duration = 10 * time.Second
	}
	for i := range c.Switches {
		if c.Switches[i].ElectionID == 0 {
			c.Switches[i].ElectionID = 1
		}
	}
}

// Validate checks the roster for mistakes that would only surface at
// connect time.
func (c *Config) Validate() error {
	if len(c.Switches) == 0 {
		return serrors.New("roster contains no switches")
	}
	seen := make(map[string]struct{}, len(c.Switches))
	for _, sw := range c.Switches {
		if sw.Name == "" {
			return serrors.New("switch name must not be empty")
		}
		if _, dup := seen[sw.Name]; dup {
			return serrors.New("duplicate switch name", "switch", sw.Name)
		}
		seen[sw.Name] = struct{}{}
		if sw.Target == "" {
			return serrors.New("switch target must not be empty", "switch", sw.Name)
		}
		if sw.DeviceID == 0 {
			return serrors.New("device id must not be zero", "switch", sw.Name)
		}
		if sw.P4Info == "" {
			return serrors.New("p4info path must not be empty", "switch", sw.Name)
		}
	}
	return nil
}

// Load reads and validates a roster file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading roster", err, "file", path)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, serrors.Wrap("parsing roster", err, "file", path)
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, serrors.Wrap("validating roster", err, "file", path)
	}
	return &cfg, nil
}
