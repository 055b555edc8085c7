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

package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/p4rt-go/p4rt/pkg/log"
	"github.com/p4rt-go/p4rt/pkg/p4rt"
	"github.com/p4rt-go/p4rt/pkg/p4rt/entity"
	"github.com/p4rt-go/p4rt/private/roster"
)

func newEntriesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "entries <switch>",
		Short: "Dump the table entries installed on a switch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := roster.Load(*configPath)
			if err != nil {
				return err
			}
			if err := log.Setup(cfg.Logging); err != nil {
				return err
			}
			return withReadySwitch(cmd, cfg, args[0],
				func(ctx context.Context, sw *p4rt.Switch) error {
					return dumpEntries(cmd, ctx, sw)
				})
		},
	}
}

// withReadySwitch runs a single switch session and invokes task once the
// session reaches ready. The session terminates when the task returns.
func withReadySwitch(cmd *cobra.Command, cfg *roster.Config, name string,
	task func(context.Context, *p4rt.Switch) error) error {

	entry, err := findSwitch(cfg, name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var taskErr error
	sw, err := buildSwitch(entry, cfg, func(opts *p4rt.SwitchOptions) {
		// A single attempt only. Interactive commands should fail
		// immediately when the switch is unreachable.
		opts.MaxConnectAttempts = 1
		opts.ReadyHandler = func(ctx context.Context, sw *p4rt.Switch) {
			taskErr = task(ctx, sw)
			cancel()
		}
	})
	if err != nil {
		return err
	}
	if err := sw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return taskErr
}

func dumpEntries(cmd *cobra.Command, ctx context.Context, sw *p4rt.Switch) error {
	read, err := sw.Read(ctx, &entity.TableEntry{})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tMATCH\tPRIORITY\tACTION")
	for _, e := range read {
		te, ok := e.(*entity.TableEntry)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			te.Table, renderMatch(sw, te), te.Priority, renderAction(te))
	}
	return w.Flush()
}

// renderMatch shows every match field of the table, with "*" for fields
// the entry leaves unconstrained.
func renderMatch(sw *p4rt.Switch, te *entity.TableEntry) string {
	full, err := te.FullMatch(sw.Schema())
	if err != nil {
		return "?"
	}
	table, ok := sw.Schema().Table(te.Table)
	if !ok {
		return "?"
	}
	parts := make([]string, 0, len(table.MatchFields))
	for _, field := range table.MatchFields {
		parts = append(parts, fmt.Sprintf("%s=%s", field.Alias, full[field.Alias]))
	}
	return strings.Join(parts, ", ")
}

func renderAction(te *entity.TableEntry) string {
	switch {
	case te.Action != nil:
		if len(te.Action.Params) == 0 {
			return te.Action.Name
		}
		params := make([]string, 0, len(te.Action.Params))
		for name, value := range te.Action.Params {
			params = append(params, fmt.Sprintf("%s=%s", name, value))
		}
		sort.Strings(params)
		return fmt.Sprintf("%s(%s)", te.Action.Name, strings.Join(params, ", "))
	case te.Indirect != nil:
		if te.Indirect.GroupID != 0 {
			return fmt.Sprintf("group %d", te.Indirect.GroupID)
		}
		if te.Indirect.MemberID != 0 {
			return fmt.Sprintf("member %d", te.Indirect.MemberID)
		}
		return fmt.Sprintf("action set (%d entries)", len(te.Indirect.ActionSet))
	default:
		return "-"
	}
}
