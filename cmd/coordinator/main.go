// Command coordinator runs the cluster coordinator against a configured set
// of seed nodes, logs every OK/NOK transition, and serves JSON endpoints
// describing the slot map version, range count and referenced clients, plus
// the recorded version and OK/NOK edge history.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"clustercoord/internal/addr"
	"clustercoord/internal/config"
	"clustercoord/internal/coordinator"
	"clustercoord/internal/logger"
	"clustercoord/internal/metrics"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	configPath := fs.String("config", "coordinator.yaml", "path to YAML configuration file")
	listenAddr := fs.String("listen", ":8099", "address the status HTTP server listens on")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Options{Dir: cfg.Log.Dir, Level: cfg.LogLevel(), Prefix: "coordinator"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		return 1
	}
	defer log.Close()

	rec := metrics.NewRecorder(cfg.MetricsWindow())

	seeds, err := cfg.SeedAddrs()
	if err != nil {
		log.Error("invalid seeds: %v", err)
		return 1
	}

	observer := coordinator.ObserverFunc(func(ev coordinator.Event) {
		logEvent(log, ev)
	})

	opts, err := cfg.CoordinatorOptions(log, rec, observer)
	if err != nil {
		log.Error("invalid configuration: %v", err)
		return 1
	}

	h, err := coordinator.Start(seeds, opts)
	if err != nil {
		log.Error("failed to start coordinator: %v", err)
		return 1
	}
	defer h.Stop()

	log.Info("coordinator started, seeds=%v", seeds)

	srv := newStatusServer(h, rec)
	go func() {
		if err := http.ListenAndServe(*listenAddr, srv); err != nil && err != http.ErrServerClosed {
			log.Error("status server: %v", err)
		}
	}()
	log.Info("status endpoint listening on %s", *listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	return 0
}

func logEvent(log *logger.Logger, ev coordinator.Event) {
	switch ev.Kind {
	case coordinator.EventClusterOK:
		log.Info("cluster_ok")
	case coordinator.EventClusterNOK:
		log.Warn("cluster_nok reason=%s", ev.Reason)
	case coordinator.EventSlotMapUpdated:
		log.Info("slot_map_updated version=%d ranges=%d", ev.SlotMapVersion, len(ev.SlotMap))
	case coordinator.EventClusterSlotsError:
		log.Warn("cluster_slots_error: %v", ev.Err)
	case coordinator.EventConnectionStatus:
		log.Debug("connection_status addr=%s kind=%s master=%t", ev.Addr, ev.Status.Kind, ev.IsMaster)
	}
}

// statusServer exposes a read-only JSON view of the coordinator, mirroring
// the demo API shape of a handful of small JSON endpoints rather than a
// templated dashboard.
type statusServer struct {
	mux *http.ServeMux
	h   *coordinator.Handle
	rec *metrics.Recorder
}

func newStatusServer(h *coordinator.Handle, rec *metrics.Recorder) *statusServer {
	s := &statusServer{mux: http.NewServeMux(), h: h, rec: rec}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/metrics/versions", s.handleVersionHistory)
	s.mux.HandleFunc("/metrics/edges", s.handleEdgeHistory)
	s.mux.HandleFunc("/connect", s.handleConnect)
	return s
}

func (s *statusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type statusResponse struct {
	SlotMapVersion int      `json:"slotMapVersion"`
	RangeCount     int      `json:"rangeCount"`
	Clients        []string `json:"clients"`
	GeneratedAt    string   `json:"generatedAt"`
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	version, sm, clients, err := s.h.GetSlotMapInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	addrs := make([]string, 0, len(clients))
	for a := range clients {
		addrs = append(addrs, a.String())
	}

	writeJSON(w, statusResponse{
		SlotMapVersion: version,
		RangeCount:     len(sm),
		Clients:        addrs,
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *statusServer) handleVersionHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.rec.VersionHistory())
}

func (s *statusServer) handleEdgeHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.rec.EdgeHistory())
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleConnect demonstrates the redirection round trip from spec.md §6.1:
// a caller that got a MOVED reply from a stale node opens the new target
// directly (?addr=host:port) and hints the coordinator to refresh out of
// cadence by reporting the slot map version it had observed (?version=N).
func (s *statusServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	target, err := addr.Parse(r.URL.Query().Get("addr"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	observedVersion, err := strconv.Atoi(r.URL.Query().Get("version"))
	if err != nil {
		http.Error(w, "version must be an integer", http.StatusBadRequest)
		return
	}

	node, err := s.h.ConnectNode(target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.h.UpdateSlots(observedVersion, node)

	writeJSON(w, map[string]string{"status": "ok", "connected": target.String()})
}
