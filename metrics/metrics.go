// Package metrics exports controller state in the Prometheus text format:
//
//	dome_shutter_direction{motor}        0 idle, 1 toward end A, 2 toward end B
//	dome_shutter_ramp{motor}             drive level
//	dome_shutter_closed{motor}           1 when resting at the closed end
//	dome_shutter_starts_total{motor}     starts since power-up
//	dome_emergency_stop                  1 while asserted
//	dome_failsafe_consecutive_failures   probe failures in the current window
//	dome_failsafe_link_present           1 while the network carrier is up
//	dome_network_failures_total          lifetime probe failures
//	dome_auto_closes_total               lifetime auto-closes
//	dome_uptime_days                     wrapping day counter
//	dome_runs_total{motor,outcome}       measured runs
//	dome_board_connected                 1 while the I/O board answers
package metrics

import (
	"net/http"

	"github.com/joergs-git/astroshell/counters"
	"github.com/joergs-git/astroshell/dome"
	"github.com/joergs-git/astroshell/failsafe"
	"github.com/joergs-git/astroshell/runlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	shutterDirection = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dome_shutter_direction",
			Help: "Shutter direction: 0 idle, 1 toward end A, 2 toward end B.",
		},
		[]string{"motor"},
	)
	shutterRamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dome_shutter_ramp",
			Help: "Shutter drive level.",
		},
		[]string{"motor"},
	)
	shutterClosed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dome_shutter_closed",
			Help: "1 when the shutter rests at its closed end.",
		},
		[]string{"motor"},
	)
	// Set from the channel's own count, so a gauge rather than a counter.
	shutterStarts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dome_shutter_starts_total",
			Help: "Shutter starts since power-up.",
		},
		[]string{"motor"},
	)
	emergencyStop = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dome_emergency_stop",
		Help: "1 while the emergency stop is asserted.",
	})
	consecutiveFailures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dome_failsafe_consecutive_failures",
		Help: "Station probe failures in the current window.",
	})
	linkPresent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dome_failsafe_link_present",
		Help: "1 while the network carrier is up.",
	})
	networkFailures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dome_network_failures_total",
		Help: "Lifetime station probe failures.",
	})
	autoCloses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dome_auto_closes_total",
		Help: "Lifetime automatic closes.",
	})
	uptimeDays = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dome_uptime_days",
		Help: "Days since boot, wrapping at 256.",
	})
	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dome_runs_total",
			Help: "Measured shutter runs by outcome.",
		},
		[]string{"motor", "outcome"},
	)
	boardConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dome_board_connected",
		Help: "1 while the I/O board answers.",
	})
)

func init() {
	prometheus.MustRegister(
		shutterDirection,
		shutterRamp,
		shutterClosed,
		shutterStarts,
		emergencyStop,
		consecutiveFailures,
		linkPresent,
		networkFailures,
		autoCloses,
		uptimeDays,
		runs,
		boardConnected,
	)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Observe copies one supervisory cycle's state into the gauges.
func Observe(s *dome.Snapshot, st failsafe.Status, c counters.Counters, board bool) {
	for _, ch := range s.Channels {
		m := ch.Motor.String()
		shutterDirection.WithLabelValues(m).Set(float64(ch.Direction))
		shutterRamp.WithLabelValues(m).Set(float64(ch.Ramp))
		shutterClosed.WithLabelValues(m).Set(boolValue(ch.Closed() && ch.Direction == dome.Idle))
		shutterStarts.WithLabelValues(m).Set(float64(ch.Starts))
	}
	emergencyStop.Set(boolValue(s.EmergencyStop))
	consecutiveFailures.Set(float64(st.ConsecutiveFailures))
	linkPresent.Set(boolValue(st.LinkPresent))
	networkFailures.Set(float64(c.NetworkFailures))
	autoCloses.Set(float64(c.AutoCloses))
	uptimeDays.Set(float64(c.UptimeDays))
	boardConnected.Set(boolValue(board))
}

// Run counts a measured run.
func Run(rec runlog.Record) {
	runs.WithLabelValues(rec.Motor.String(), rec.Outcome.String()).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
