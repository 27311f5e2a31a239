// Package metrics holds the Prometheus collectors shared by the bot's subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsDispatched counts resolved commands by canonical name.
	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spoticord_commands_dispatched_total",
		Help: "Number of commands resolved and dispatched to a handler",
	}, []string{"command"})

	// CommandFailures counts handler invocations that returned an error or panicked.
	CommandFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spoticord_command_failures_total",
		Help: "Number of command handler invocations that failed",
	}, []string{"command"})

	// CommandDuration observes handler run time in seconds.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spoticord_command_duration_seconds",
		Help:    "Command handler duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	// LinksStarted counts link tokens created by the link command.
	LinksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spoticord_links_started_total",
		Help: "Number of account links initiated",
	})

	// LinksCompleted counts OAuth callbacks that stored Spotify credentials.
	LinksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spoticord_links_completed_total",
		Help: "Number of account links completed through the OAuth callback",
	})

	// LinksExpired counts pending links removed by the reaper.
	LinksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spoticord_links_expired_total",
		Help: "Number of pending links removed after their TTL",
	})

	// BootstrapStage reports the orchestrator state as its ordinal.
	BootstrapStage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spoticord_bootstrap_stage",
		Help: "Current bootstrap state ordinal (see internal/bootstrap.State)",
	})

	// AudioNodesConnected reports how many Lavalink nodes have a live socket.
	AudioNodesConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spoticord_audio_nodes_connected",
		Help: "Number of audio nodes currently connected",
	})

	// AudioNodeErrors counts node dial/read failures.
	AudioNodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spoticord_audio_node_errors_total",
		Help: "Number of audio node connection errors",
	})
)
