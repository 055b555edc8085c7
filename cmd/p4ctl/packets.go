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
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p4rt-go/p4rt/pkg/log"
	"github.com/p4rt-go/p4rt/pkg/p4rt"
	"github.com/p4rt-go/p4rt/pkg/p4rt/entity"
	"github.com/p4rt-go/p4rt/private/roster"
)

func newPacketsCmd(configPath *string) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "packets <switch>",
		Short: "Print packets punted to the controller by a switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := roster.Load(*configPath)
			if err != nil {
				return err
			}
			if err := log.Setup(cfg.Logging); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return withReadySwitch(cmd, cfg, args[0],
				func(ctx context.Context, sw *p4rt.Switch) error {
					return streamPackets(cmd, ctx, sw, count)
				})
		},
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().IntVar(&count, "count", 0,
		"Stop after this many packets (0 means stream until interrupted)")
	return cmd
}

func streamPackets(cmd *cobra.Command, ctx context.Context, sw *p4rt.Switch,
	count int) error {

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt := <-sw.ReadPackets():
			fmt.Fprintf(cmd.OutOrStdout(), "%d bytes%s\n\t%x\n",
				len(pkt.Payload), renderPacketMetadata(pkt), pkt.Payload)
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}

func renderPacketMetadata(pkt *entity.PacketIn) string {
	if len(pkt.Metadata) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pkt.Metadata))
	for name, value := range pkt.Metadata {
		parts = append(parts, fmt.Sprintf("%s=%s", name, value))
	}
	sort.Strings(parts)
	return " [" + strings.Join(parts, ", ") + "]"
}
