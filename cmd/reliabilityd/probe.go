package main

import (
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirrorbuddy/reliability/internal/health"
	"github.com/mirrorbuddy/reliability/internal/worker"
)

// monitorRecorder records probe results into a local monitor when no remote
// reporter is configured.
type monitorRecorder struct {
	monitor *health.Monitor
}

func (m monitorRecorder) RecordHealthCheck(service health.ServiceID, healthy bool, latencyMs int64) health.ServiceHealth {
	return m.monitor.Record(service, healthy, latencyMs)
}

func newProbeCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe configured dependencies and report their health",
		Long: `Probe polls every prober.targets entry. With pubsub.health_topic set, results
are published for serving instances to apply; otherwise they are only logged.
With --once each target is probed a single time and the results are printed
as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(cfg.Prober.Targets) == 0 {
				return errors.New("no probe targets configured (prober.targets)")
			}

			logger := newLogger(cfg.Log, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var recorder worker.Recorder = monitorRecorder{monitor: health.NewMonitor(health.MonitorConfig{})}
			if cfg.PubSub.Enabled && cfg.PubSub.HealthTopic != "" {
				reporter, err := worker.NewPubSubReporter(ctx, worker.PubSubConfig{
					ProjectID: cfg.PubSub.ProjectID,
					TopicName: cfg.PubSub.HealthTopic,
					Logger:    logger,
				})
				if err != nil {
					return err
				}
				defer func() {
					if err := reporter.Close(); err != nil {
						logger.Error().Err(err).Msg("failed to close health reporter")
					}
				}()
				recorder = reporter
			}

			prober := worker.NewProber(worker.ProberConfig{
				Config:   cfg.Prober.ProbeConfig(),
				Recorder: recorder,
				Logger:   logger,
			})

			if once {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(prober.RunOnce(ctx))
			}

			prober.Run(ctx)
			m := prober.GetMetrics()
			logger.Info().
				Int64("total_probes", m.TotalProbes).
				Int64("unhealthy_probes", m.UnhealthyProbes).
				Msg("prober stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "probe each target once, print results and exit")
	return cmd
}
