package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s, want /health", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Health{Status: "healthy", Host: "worker-1", CPUPercent: 12.5})
	}))
	defer srv.Close()

	h, err := New().CheckHealth(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if h.Host != "worker-1" || h.CPUPercent != 12.5 {
		t.Errorf("health = %+v", h)
	}
}

func TestCheckHealth_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := New().CheckHealth(ctx, srv.URL); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestStartContainer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start_container" || r.Method != http.MethodPost {
			t.Errorf("%s %s, want POST /start_container", r.Method, r.URL.Path)
		}
		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Image != "jupyter/notebook" || req.Port != 8042 || req.UserID != 7 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(StartResponse{
			ContainerName: "compute_7_12345",
			URL:           "http://10.0.0.1:8042",
			Port:          8042,
		})
	}))
	defer srv.Close()

	resp, err := New().StartContainer(context.Background(), srv.URL, StartRequest{
		Image: "jupyter/notebook", CPU: 2, Memory: "4g", Port: 8042, UserID: 7,
	})
	if err != nil {
		t.Fatalf("StartContainer: %v", err)
	}
	if resp.ContainerName != "compute_7_12345" {
		t.Errorf("container = %s", resp.ContainerName)
	}
}

func TestStartContainer_ImageNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"image not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New().StartContainer(context.Background(), srv.URL, StartRequest{Image: "nope"})
	if !errors.Is(err, ErrImageNotFound) {
		t.Errorf("err = %v, want ErrImageNotFound", err)
	}
}

func TestStopContainer_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stop_container/compute_7_12345" {
			t.Errorf("path = %s", r.URL.Path)
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := New().StopContainer(context.Background(), srv.URL, "compute_7_12345")
	if !errors.Is(err, ErrContainerNotFound) {
		t.Errorf("err = %v, want ErrContainerNotFound", err)
	}
}

func TestListContainers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"containers": []Container{{Name: "compute_7_11111", Image: "img", Status: "running"}},
		})
	}))
	defer srv.Close()

	cs, err := New().ListContainers(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ListContainers: %v", err)
	}
	if len(cs) != 1 || cs[0].Name != "compute_7_11111" {
		t.Errorf("containers = %+v", cs)
	}
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().StopContainer(context.Background(), srv.URL, "x")
	if err == nil || errors.Is(err, ErrContainerNotFound) {
		t.Errorf("err = %v, want transient error", err)
	}
}
