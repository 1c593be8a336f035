package onos

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/onos/v1/", Username: "onos", Password: "rocks", Timeout: 2 * time.Second})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestHostsAndLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/onos/v1/hosts", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "onos" || pass != "rocks" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"hosts": []any{
			map[string]any{
				"id":  "00:00:00:00:00:01/None",
				"mac": "00:00:00:00:00:01",
				"locations": []any{
					map[string]any{"elementId": "of:0000000000000001", "port": "1"},
					map[string]any{"elementId": "of:0000000000000009", "port": "9"},
				},
			},
			map[string]any{"id": "floating/None", "mac": "aa", "locations": []any{}},
		}})
	})
	mux.HandleFunc("/onos/v1/links", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"links": []any{
			map[string]any{
				"src":         map[string]string{"device": "of:0000000000000001", "port": "2"},
				"dst":         map[string]string{"device": "of:0000000000000002", "port": "1"},
				"annotations": map[string]string{"bandwidth": "25"},
			},
			map[string]any{
				"src": map[string]string{"device": "of:0000000000000002", "port": "1"},
				"dst": map[string]string{"device": "of:0000000000000001", "port": "2"},
			},
			map[string]any{
				"src":         map[string]string{"device": "of:0000000000000002", "port": "3"},
				"dst":         map[string]string{"device": "of:0000000000000003", "port": "1"},
				"annotations": map[string]string{"bandwidth": "fast"},
			},
		}})
	})
	c := newTestClient(t, mux)

	hosts, err := c.Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, model.Host{
		ID:       "00:00:00:00:00:01/None",
		MAC:      "00:00:00:00:00:01",
		Location: model.SwitchPort{Device: "of:0000000000000001", Port: "1"},
	}, hosts[0])

	links, err := c.Links(context.Background())
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, int64(25), links[0].Bandwidth)
	assert.Zero(t, links[1].Bandwidth)
	assert.Zero(t, links[2].Bandwidth, "unparseable annotation counts as missing")
	assert.Equal(t, "2", links[0].Src.Port)
}

func TestInstallFlowWireShapeAndRuleID(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/onos/v1/flows/of:0000000000000001", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Location", "http://onos/onos/v1/flows/of:0000000000000001/49539596813484082")
		w.WriteHeader(http.StatusCreated)
	})
	c := newTestClient(t, mux)

	id, err := c.InstallFlow(context.Background(), model.FlowRule{
		DeviceID:  "of:0000000000000001",
		SrcMAC:    "00:00:00:00:00:01",
		DstMAC:    "00:00:00:00:00:02",
		InPort:    "1",
		OutPort:   "2",
		Priority:  model.DefaultFlowPriority,
		Permanent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "49539596813484082", id)

	assert.EqualValues(t, 40001, got["priority"])
	assert.EqualValues(t, 0, got["timeout"])
	assert.Equal(t, true, got["isPermanent"])
	assert.Equal(t, "of:0000000000000001", got["deviceId"])

	instr := got["treatment"].(map[string]any)["instructions"].([]any)
	assert.Equal(t, map[string]any{"type": "OUTPUT", "port": "2"}, instr[0])

	crit := got["selector"].(map[string]any)["criteria"].([]any)
	require.Len(t, crit, 3)
	assert.Equal(t, map[string]any{"type": "IN_PORT", "port": "1"}, crit[0])
	assert.Equal(t, map[string]any{"type": "ETH_DST", "mac": "00:00:00:00:00:02"}, crit[1])
	assert.Equal(t, map[string]any{"type": "ETH_SRC", "mac": "00:00:00:00:00:01"}, crit[2])
}

func TestInstallFlowWithoutLocation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	_, err := c.InstallFlow(context.Background(), model.FlowRule{DeviceID: "of:1"})
	require.ErrorIs(t, err, ErrRequestFailed)
}

func TestDeleteFlowAndErrors(t *testing.T) {
	var deleted atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/onos/v1/flows/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.Error(w, `{"message":"flow not found"}`, http.StatusNotFound)
			return
		}
		deleted.Store(r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.DeleteFlow(context.Background(), "of:0000000000000001", "42"))
	assert.Equal(t, "/onos/v1/flows/of:0000000000000001/42", deleted.Load())

	err := c.DeleteFlow(context.Background(), "of:0000000000000001", "missing")
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "404")
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second})
	_, err := c.Links(context.Background())
	require.ErrorIs(t, err, ErrRequestFailed)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{"links": []any{}})
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1})
	_, err := c.Links(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Links(ctx)
	require.Error(t, err, "second call must wait for a token and hit the deadline")
	assert.Equal(t, int32(1), calls.Load())
}

func TestConfigureLinkBandwidths(t *testing.T) {
	var got LinkConfig
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/onos/v1/network/configuration", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	triples, err := core.ParseTriples(strings.NewReader("h1 1 100\n1 2 10\n2 10 5\n"))
	require.NoError(t, err)
	cfg, err := BuildLinkConfig(triples)
	require.NoError(t, err)
	require.NoError(t, c.ConfigureLinkBandwidths(context.Background(), cfg))

	assert.Len(t, got.Links, 4)
	assert.Equal(t, int64(10), got.Links["of:0000000000000001/2-of:0000000000000002/1"].Basic.Bandwidth)
	assert.Equal(t, int64(10), got.Links["of:0000000000000002/1-of:0000000000000001/2"].Basic.Bandwidth)
	assert.Equal(t, int64(5), got.Links["of:000000000000000a/2-of:0000000000000002/10"].Basic.Bandwidth)
}

func TestBuildLinkConfigRejectsNonNumericSwitch(t *testing.T) {
	_, err := BuildLinkConfig([]core.Triple{{A: "s1", B: "2", Value: 1, Line: 3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}
