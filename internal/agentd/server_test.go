package agentd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shiva/labdock/config"
)

// fakeRuntime implements Runtime in memory.
type fakeRuntime struct {
	containers map[string]ManagedContainer
	badImages  map[string]bool
	startErr   error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: map[string]ManagedContainer{},
		badImages:  map[string]bool{},
	}
}

func (f *fakeRuntime) Start(_ context.Context, spec StartSpec) (*StartedContainer, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.badImages[spec.Image] {
		return nil, ErrImageNotFound
	}
	name := containerName(spec.UserID)
	f.containers[name] = ManagedContainer{
		ID: "abcdef123456", Name: name, Status: "running",
		Labels: map[string]string{ManagedLabel: ManagedValue},
	}
	return &StartedContainer{Name: name, Port: spec.Port}, nil
}

func (f *fakeRuntime) Stop(_ context.Context, name string) error {
	if _, ok := f.containers[name]; !ok {
		return ErrContainerNotFound
	}
	delete(f.containers, name)
	return nil
}

func (f *fakeRuntime) List(_ context.Context) ([]ManagedContainer, error) {
	var out []ManagedContainer
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRuntime) PullImage(_ context.Context, ref string) error {
	if f.badImages[ref] {
		return ErrImageNotFound
	}
	return nil
}

func testServer(rt Runtime) *Server {
	return NewServer(config.AgentConfig{
		Host:       "worker-1.lab",
		ListenPort: 5000,
		StopGrace:  10 * time.Second,
	}, rt)
}

func TestHealth(t *testing.T) {
	srv := testServer(newFakeRuntime())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Host   string `json:"host"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q", body.Status)
	}
}

func TestStartContainer(t *testing.T) {
	rt := newFakeRuntime()
	srv := testServer(rt)

	req := httptest.NewRequest(http.MethodPost, "/start_container",
		strings.NewReader(`{"image":"jupyter/notebook","cpu":2,"memory":"4g","port":8042,"user_id":7}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		ContainerName string `json:"container_name"`
		URL           string `json:"url"`
		Port          int    `json:"port"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.ContainerName, "compute_7_") {
		t.Errorf("container name = %q, want compute_7_<suffix>", body.ContainerName)
	}
	if body.URL != "http://worker-1.lab:8042" {
		t.Errorf("url = %q", body.URL)
	}
	if body.Port != 8042 {
		t.Errorf("port = %d", body.Port)
	}
	if len(rt.containers) != 1 {
		t.Errorf("containers = %v", rt.containers)
	}
}

func TestStartContainer_UnknownImage(t *testing.T) {
	rt := newFakeRuntime()
	rt.badImages["nope/nothing"] = true
	srv := testServer(rt)

	req := httptest.NewRequest(http.MethodPost, "/start_container",
		strings.NewReader(`{"image":"nope/nothing","cpu":1,"memory":"1g","port":8001,"user_id":1}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartContainer_MissingFields(t *testing.T) {
	srv := testServer(newFakeRuntime())
	req := httptest.NewRequest(http.MethodPost, "/start_container",
		strings.NewReader(`{"image":"img"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStopContainer(t *testing.T) {
	rt := newFakeRuntime()
	srv := testServer(rt)

	started, err := rt.Start(context.Background(), StartSpec{Image: "img", CPU: 1, Memory: "1g", Port: 8001, UserID: 3})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop_container/"+started.Name, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// Second stop: gone, 404.
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop_container/"+started.Name, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("repeat stop status = %d, want 404", rec.Code)
	}
}

func TestListContainers(t *testing.T) {
	rt := newFakeRuntime()
	srv := testServer(rt)
	if _, err := rt.Start(context.Background(), StartSpec{Image: "img", CPU: 1, Memory: "1g", Port: 8001, UserID: 3}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Containers []ManagedContainer `json:"containers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Containers) != 1 {
		t.Fatalf("containers = %+v", body.Containers)
	}
	if body.Containers[0].Labels[ManagedLabel] != ManagedValue {
		t.Errorf("labels = %v", body.Containers[0].Labels)
	}
}

func TestTestImage(t *testing.T) {
	rt := newFakeRuntime()
	rt.badImages["missing"] = true
	srv := testServer(rt)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test_image/alpine", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("good image: status = %d", rec.Code)
	}

	// Image refs contain slashes and tags.
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test_image/jupyter/base-notebook:latest", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("slashed image: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test_image/missing", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad image: status = %d, want 400", rec.Code)
	}
}

func TestContainerNameShape(t *testing.T) {
	name := containerName(42)
	if !strings.HasPrefix(name, "compute_42_") {
		t.Fatalf("name = %q", name)
	}
	suffix := strings.TrimPrefix(name, "compute_42_")
	if len(suffix) != 5 {
		t.Errorf("suffix = %q, want 5 digits", suffix)
	}
}
