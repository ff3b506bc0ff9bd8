// Package metrics exposes Prometheus counters and gauges for the
// streaming pipeline, narrowed from kstaniek-go-ampio-server's CAN-frame
// metrics (internal/metrics/metrics.go) to this domain's
// equivalents: frames captured/encoded, macroblocks sent, pending-ack
// backlog, handshake accept/reject, and session state.
package metrics

import (
	"context"
	"net/http"

	"github.com/breeze-rmm/screend/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_frames_captured_total",
		Help: "Total screenshots captured by the Change Detector.",
	})
	FramesEncoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_frames_encoded_total",
		Help: "Total frames (FirstImage or DataAndErrors) emitted by the encoder.",
	})
	MacroblocksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_macroblocks_sent_total",
		Help: "Total macroblock payloads handed to the transport layer.",
	})
	PacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_packets_sent_total",
		Help: "Total datagrams sent (image data and control packets).",
	})
	PacketsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_packets_dropped_total",
		Help: "Total outbound datagrams dropped due to a send error.",
	})
	MalformedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_malformed_packets_total",
		Help: "Total inbound datagrams dropped for an unknown opcode or length mismatch.",
	})
	HandshakesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_handshakes_accepted_total",
		Help: "Total handshakes accepted.",
	})
	HandshakesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_handshakes_rejected_total",
		Help: "Total handshakes rejected (version mismatch or session already active).",
	})
	BlocksAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_blocks_acked_total",
		Help: "Total macroblocks acknowledged by the client.",
	})
	BlocksStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screend_blocks_stale_total",
		Help: "Total macroblocks forced to maximum priority by staleness escalation.",
	})
	PendingAcks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screend_pending_acks",
		Help: "Current number of outstanding (unacknowledged) packets.",
	})
	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screend_session_state",
		Help: "Current session state: 0=idle, 1=connected, 2=streaming, 3=closing.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "screend_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
)

// InitBuildInfo sets the build info gauge. Call once at startup.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// StartHTTP serves the Prometheus handler at /metrics on addr and returns
// the *http.Server so the caller can manage its shutdown; a background
// goroutine also calls srv.Shutdown once ctx is cancelled.
func StartHTTP(ctx context.Context, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	logger := logging.L("metrics")
	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics http server failed", logging.KeyError, err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	return srv
}
