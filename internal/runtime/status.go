package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/drblury/eventrelay/internal/runtime/forwarder"
	"github.com/drblury/eventrelay/internal/runtime/jsoncodec"
	"github.com/drblury/eventrelay/internal/runtime/monitor"
	"github.com/drblury/eventrelay/internal/runtime/queue"
	"github.com/drblury/eventrelay/internal/runtime/supervisor"
)

// WorkerStatus is a supervisor.Status with the error flattened for JSON.
type WorkerStatus struct {
	Name      string           `json:"name"`
	State     supervisor.State `json:"state"`
	Attempts  int              `json:"attempts"`
	Failures  int              `json:"failures"`
	LastError string           `json:"last_error,omitempty"`
}

// Status is what GET /api/status returns.
type Status struct {
	App       string               `json:"app"`
	Queue     queue.Stats          `json:"queue"`
	Monitor   monitor.Snapshot     `json:"monitor"`
	Forwarder forwarder.Stats      `json:"forwarder"`
	Workers   []WorkerStatus       `json:"workers"`
	Relay     RelayMetricsSnapshot `json:"relay"`
	Resources ResourceUsage        `json:"resources"`
	Time      time.Time            `json:"time"`
}

// Status collects the current state of every component.
func (s *Service) Status() Status {
	statuses := s.host.Statuses()
	workers := make([]WorkerStatus, len(statuses))
	for i, st := range statuses {
		workers[i] = WorkerStatus{
			Name:     st.Name,
			State:    st.State,
			Attempts: st.Attempts,
			Failures: st.Failures,
		}
		if st.LastError != nil {
			workers[i].LastError = st.LastError.Error()
		}
	}
	return Status{
		App:       s.Conf.AppName,
		Queue:     s.queue.Stats(),
		Monitor:   s.Monitor().Snapshot(),
		Forwarder: s.ForwarderStats(),
		Workers:   workers,
		Relay:     s.relayMetrics.Snapshot(),
		Resources: s.resourceTracker.Snapshot(),
		Time:      time.Now(),
	}
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if origin := s.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(s.Status())
	if err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for a
// request origin, or "" when it is not allowed.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	if requestOrigin == "" {
		return ""
	}
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
