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

// p4ctl manages a fleet of P4Runtime switches described by a TOML roster.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/p4rt-go/p4rt/pkg/p4rt"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
	"github.com/p4rt-go/p4rt/private/roster"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "p4ctl",
		Short:         "Control a fleet of P4Runtime switches",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "p4ctl.toml",
		"Roster configuration file")
	cmd.AddCommand(
		newRunCmd(&configPath),
		newEntriesCmd(&configPath),
		newPacketsCmd(&configPath),
	)
	return cmd
}

// buildSwitch turns a roster entry into a switch.
func buildSwitch(cfg roster.Switch, global *roster.Config,
	tweak func(*p4rt.SwitchOptions)) (*p4rt.Switch, error) {

	opts := p4rt.SwitchOptions{
		DeviceID:         cfg.DeviceID,
		P4InfoPath:       cfg.P4Info,
		DeviceConfigPath: cfg.DeviceConfig,
		Role:             cfg.Role,
		ElectionID:       p4rt.ElectionID{Low: cfg.ElectionID},
		DialTimeout:      global.DialTimeout.Duration,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return p4rt.NewSwitch(cfg.Name, cfg.Target, opts)
}

// findSwitch resolves one roster entry by name.
func findSwitch(cfg *roster.Config, name string) (roster.Switch, error) {
	for _, sw := range cfg.Switches {
		if sw.Name == name {
			return sw, nil
		}
	}
	return roster.Switch{}, serrors.New("switch not in roster", "switch", name)
}
