package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/bandwidth-intent-controller/internal/alloc"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func testConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	return writeFile(t, dir, "intentctl.yaml", fmt.Sprintf(`controller:
  base_url: %s
  timeout: 2s
loop:
  poll_interval: 50ms
  shutdown_timeout: 3s
logging:
  level: error
metrics:
  addr: ""
`, baseURL))
}

func execute(t *testing.T, in io.Reader, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd(in, &out, &errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanFeasibleYAML(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "http://localhost:8181/onos/v1")
	graph := writeFile(t, dir, "topo.graph", "# line topology\n1 2 10\n2 3 10\n")
	intents := writeFile(t, dir, "batch.intents", "1 3 5\n")

	out, err := execute(t, strings.NewReader(""), "plan", "-c", cfg, "--graph", graph, "--intents", intents, "-o", "yaml", "--alternatives")
	require.NoError(t, err)

	var report PlanReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.True(t, report.Feasible)
	assert.Equal(t, "kshortest", report.Strategy)
	require.Len(t, report.Assignments, 1)
	assert.Equal(t, "intent-1", report.Assignments[0].ID)
	assert.Equal(t, []string{"1", "2", "3"}, report.Assignments[0].Path)
	assert.Equal(t, [][]string{{"1", "2", "3"}}, report.Assignments[0].Alternatives)

	require.Len(t, report.Edges, 2)
	for _, e := range report.Edges {
		assert.Equal(t, int64(10), e.Max)
		assert.Equal(t, int64(5), e.Remaining, e.Edge)
	}
}

func TestPlanInfeasibleBatch(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "http://localhost:8181/onos/v1")
	graph := writeFile(t, dir, "topo.graph", "1 2 10\n2 3 10\n")
	intents := writeFile(t, dir, "batch.intents", "1 3 5\n1 3 7\n")

	out, err := execute(t, strings.NewReader(""), "plan", "-c", cfg, "--graph", graph, "--intents", intents)
	require.ErrorIs(t, err, alloc.ErrInfeasible)
	assert.Contains(t, out, "infeasible: intent-1 needs 5, best achievable 3")
}

func TestPlanTextAndStrategyOverride(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "http://localhost:8181/onos/v1")
	graph := writeFile(t, dir, "topo.graph", "1 2 10\n2 3 10\n1 3 4\n")
	intents := writeFile(t, dir, "batch.intents", "1 3 6\n1 3 4\n")

	out, err := execute(t, strings.NewReader(""), "plan", "-c", cfg, "--graph", graph, "--intents", intents, "--strategy", "hop")
	require.NoError(t, err)
	assert.Contains(t, out, "1->2->3")
	assert.Contains(t, out, "1->3")
	assert.Contains(t, out, "Total: 2 intents (strategy hop)")

	_, err = execute(t, strings.NewReader(""), "plan", "-c", cfg, "--graph", graph, "--intents", intents, "--strategy", "widest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestPushLinks(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/onos/v1/network/configuration" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := testConfig(t, dir, srv.URL+"/onos/v1")
	graph := writeFile(t, dir, "topo.graph", "1 2 10\nh1 1 100\n")

	out, err := execute(t, strings.NewReader(""), "push-links", "-c", cfg, "--graph", graph)
	require.NoError(t, err)
	assert.Contains(t, out, "configured 2 link directions")

	mu.Lock()
	defer mu.Unlock()
	links, ok := body["links"].(map[string]any)
	require.True(t, ok)
	require.Len(t, links, 2)
	entry := links["of:0000000000000001/2-of:0000000000000002/1"].(map[string]any)
	assert.Equal(t, 10.0, entry["basic"].(map[string]any)["bandwidth"])
}

func TestPushLinksControllerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := testConfig(t, dir, srv.URL+"/onos/v1")
	graph := writeFile(t, dir, "topo.graph", "1 2 10\n")

	_, err := execute(t, strings.NewReader(""), "push-links", "-c", cfg, "--graph", graph)
	require.Error(t, err)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// controllerStub serves hosts 1 and 2 on a two-switch line and records flows.
type controllerStub struct {
	mu    sync.Mutex
	flows map[string]struct{}
	next  int
}

func (c *controllerStub) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flows)
}

func (c *controllerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	const s1, s2 = "of:0000000000000001", "of:0000000000000002"
	path := strings.TrimPrefix(r.URL.Path, "/onos/v1")
	switch {
	case r.Method == http.MethodGet && path == "/hosts":
		_ = json.NewEncoder(w).Encode(map[string]any{"hosts": []any{
			map[string]any{"id": "00:00:00:00:00:01/None", "mac": "00:00:00:00:00:01",
				"locations": []any{map[string]string{"elementId": s1, "port": "1"}}},
			map[string]any{"id": "00:00:00:00:00:02/None", "mac": "00:00:00:00:00:02",
				"locations": []any{map[string]string{"elementId": s2, "port": "1"}}},
		}})
	case r.Method == http.MethodGet && path == "/links":
		_ = json.NewEncoder(w).Encode(map[string]any{"links": []any{
			map[string]any{"src": map[string]string{"device": s1, "port": "2"}, "dst": map[string]string{"device": s2, "port": "2"}},
			map[string]any{"src": map[string]string{"device": s2, "port": "2"}, "dst": map[string]string{"device": s1, "port": "2"}},
		}})
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/flows/"):
		device := strings.TrimPrefix(path, "/flows/")
		c.next++
		id := strconv.Itoa(c.next)
		c.flows[device+"/"+id] = struct{}{}
		w.Header().Set("Location", "http://onos/onos/v1/flows/"+device+"/"+id)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/flows/"):
		delete(c.flows, strings.TrimPrefix(path, "/flows/"))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestRunConsoleSession(t *testing.T) {
	stub := &controllerStub{flows: make(map[string]struct{})}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := testConfig(t, dir, srv.URL+"/onos/v1")

	stdin, feed := io.Pipe()
	out := &syncBuffer{}
	root := NewRootCmd(stdin, out, io.Discard)
	root.SetArgs([]string{"run", "-c", cfg})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(context.Background()) }()

	_, err := io.WriteString(feed, "add 1 2 5\n")
	require.NoError(t, err)

	// one forward and one reverse rule on each of the two switches
	assert.Eventually(t, func() bool { return stub.count() == 4 }, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), "path of:0000000000000001 -> of:0000000000000002")

	_, err = io.WriteString(feed, "quit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after quit")
	}
	assert.Zero(t, stub.count())
	_ = feed.Close()
}
