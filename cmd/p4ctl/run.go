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
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/p4rt-go/p4rt/pkg/log"
	"github.com/p4rt-go/p4rt/pkg/metrics"
	"github.com/p4rt-go/p4rt/pkg/p4rt"
	"github.com/p4rt-go/p4rt/private/roster"
)

func newRunCmd(configPath *string) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to every switch in the roster and keep the sessions alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := roster.Load(*configPath)
			if err != nil {
				return err
			}
			if err := log.Setup(cfg.Logging); err != nil {
				return err
			}
			defer log.HandlePanic()
			return runController(cmd, cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics", "",
		"Address to serve prometheus metrics on (disabled if empty)")
	return cmd
}

func runController(cmd *cobra.Command, cfg *roster.Config, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := log.FromCtx(ctx)

	connects := metrics.NewPromCounterFrom(prometheus.CounterOpts{
		Namespace: "p4ctl",
		Name:      "switch_connects_total",
		Help:      "Successful switch session establishments.",
	}, []string{"switch"})
	failures := metrics.NewPromCounterFrom(prometheus.CounterOpts{
		Namespace: "p4ctl",
		Name:      "switch_failures_total",
		Help:      "Switch session failures.",
	}, []string{"switch"})
	up := metrics.NewPromGaugeFrom(prometheus.GaugeOpts{
		Namespace: "p4ctl",
		Name:      "switch_up",
		Help:      "Whether the switch session is ready.",
	}, []string{"switch"})

	switches := make([]*p4rt.Switch, 0, len(cfg.Switches))
	for _, entry := range cfg.Switches {
		sw, err := buildSwitch(entry, cfg, func(opts *p4rt.SwitchOptions) {
			opts.Metrics = p4rt.SwitchMetrics{
				Connects: connects.With("switch", entry.Name),
				Failures: failures.With("switch", entry.Name),
				Up:       up.With("switch", entry.Name),
			}
		})
		if err != nil {
			return err
		}
		switches = append(switches, sw)
	}
	ctrl, err := p4rt.NewController(p4rt.ControllerOptions{
		FailFast: cfg.FailFast,
	}, switches...)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			defer log.HandlePanic()
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("Metrics server failed", "err", err)
			}
		}()
		logger.Info("Serving metrics", "addr", metricsAddr)
	}

	go func() {
		defer log.HandlePanic()
		logEvents(ctx, logger, ctrl.Events())
	}()

	logger.Info("Starting controller", "switches", len(switches))
	return ctrl.Run(ctx)
}

func logEvents(ctx context.Context, logger log.Logger, events <-chan p4rt.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case p4rt.EventMastershipChange:
				logger.Info("Mastership changed", "switch", ev.Switch,
					"primary", ev.Primary, "election_id", ev.PrimaryElectionID)
			case p4rt.EventStateChange:
				if ev.Err != nil {
					logger.Info("Switch state changed", "switch", ev.Switch,
						"state", ev.State, "err", ev.Err)
					continue
				}
				logger.Info("Switch state changed", "switch", ev.Switch,
					"state", ev.State)
			}
		}
	}
}
