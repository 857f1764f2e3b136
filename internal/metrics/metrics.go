package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Reconciliation metrics
	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpark_detections_total",
			Help: "Total plate detections reconciled, by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpark_reconcile_duration_seconds",
			Help:    "Time spent reconciling one detection, including store round trips",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)

	FeesChargedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpark_fees_charged_total",
			Help: "Sum of amounts due recorded on exit",
		},
	)

	ParkedMinutes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kpark_parked_minutes",
			Help:    "Duration of closed parking sessions in minutes",
			Buckets: []float64{5, 10, 30, 60, 120, 240, 480, 1440},
		},
	)

	// Concurrency and store health
	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpark_conflicts_total",
			Help: "Conditional writes rejected because the plate changed concurrently",
		},
		[]string{"path"},
	)

	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpark_store_errors_total",
			Help: "Session store calls that failed or timed out",
		},
		[]string{"operation"},
	)

	DataInconsistenciesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpark_data_inconsistencies_total",
			Help: "Reconciliations that found more than one active session for a plate",
		},
	)

	RegistrationLookupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpark_registration_lookup_failures_total",
			Help: "Registration lookups that failed and were treated as unregistered",
		},
	)

	RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpark_reconcile_retries_total",
			Help: "Reconcile attempts restarted after a concurrent modification",
		},
	)

	// Dedup metrics
	DedupSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpark_dedup_suppressed_total",
			Help: "Detections dropped because the plate was seen inside the dedup window",
		},
		[]string{"source"},
	)

	DedupEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kpark_dedup_entries",
			Help: "Plates currently remembered by all dedup filters",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		DetectionsTotal,
		ReconcileDuration,
		FeesChargedTotal,
		ParkedMinutes,
		ConflictsTotal,
		StoreErrorsTotal,
		DataInconsistenciesTotal,
		RegistrationLookupFailures,
		RetriesTotal,
		DedupSuppressed,
		DedupEntries,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
