package agentd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/shiva/labdock/config"
)

// Server is the agent daemon's HTTP surface. Stateless: everything it knows
// lives in the container engine.
type Server struct {
	cfg     config.AgentConfig
	runtime Runtime
}

// NewServer creates the agent HTTP server over the given runtime.
func NewServer(cfg config.AgentConfig, runtime Runtime) *Server {
	return &Server{cfg: cfg, runtime: runtime}
}

// Router builds the agent's route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/start_container", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/stop_container/{name}", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/containers", s.handleList).Methods(http.MethodGet)
	// Image refs contain slashes (repo/name:tag), so match greedily.
	r.HandleFunc("/test_image/{image:.+}", s.handleTestImage).Methods(http.MethodPost)
	return r
}

// handleHealth reports host load. The controller only checks for a 200, but
// the percentages are handy when eyeballing a fleet.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	cpuPercent := 0.0
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	memPercent := 0.0
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		memPercent = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"host":           hostname,
		"cpu_percent":    cpuPercent,
		"memory_percent": memPercent,
	})
}

// handleStart creates a session container.
//
// 200 with `{container_name, url, port}`; 400 if the image cannot be pulled;
// 500 on engine errors.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Image  string `json:"image"`
		CPU    int    `json:"cpu"`
		Memory string `json:"memory"`
		Port   int    `json:"port"`
		UserID int64  `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.Image == "" || in.Port <= 0 || in.CPU <= 0 {
		writeError(w, http.StatusBadRequest, "image, cpu and port are required")
		return
	}

	started, err := s.runtime.Start(r.Context(), StartSpec{
		Image:  in.Image,
		CPU:    in.CPU,
		Memory: in.Memory,
		Port:   in.Port,
		UserID: in.UserID,
	})
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("image %q not found", in.Image))
			return
		}
		log.Printf("[agentd] start container (image %s, user %d): %v", in.Image, in.UserID, err)
		writeError(w, http.StatusInternalServerError, "container start failed")
		return
	}

	log.Printf("[agentd] ✓ Started %s (image %s, port %d)", started.Name, in.Image, started.Port)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"container_name": started.Name,
		"url":            fmt.Sprintf("http://%s:%d", s.cfg.Host, started.Port),
		"port":           started.Port,
	})
}

// handleStop stops and removes a container. 404 for an unknown name; the
// controller treats that as idempotent success.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := s.runtime.Stop(r.Context(), name); err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("container %q not found", name))
			return
		}
		log.Printf("[agentd] stop container %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "container stop failed")
		return
	}

	log.Printf("[agentd] ✓ Stopped %s", name)
	writeJSON(w, http.StatusOK, map[string]string{"message": "stopped"})
}

// handleList returns the managed containers for drift reconciliation.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	containers, err := s.runtime.List(r.Context())
	if err != nil {
		log.Printf("[agentd] list containers: %v", err)
		writeError(w, http.StatusInternalServerError, "container list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"containers": containers})
}

// handleTestImage pulls an image to verify it is reachable. Diagnostic only.
func (s *Server) handleTestImage(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["image"]

	if err := s.runtime.PullImage(r.Context(), ref); err != nil {
		if errors.Is(err, ErrImageNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("image %q not found", ref))
			return
		}
		log.Printf("[agentd] pull image %s: %v", ref, err)
		writeError(w, http.StatusInternalServerError, "image pull failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "image ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
