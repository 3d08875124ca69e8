package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeData(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

func newTestAPI(t *testing.T, mux *http.ServeMux) *APIClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	api, err := NewAPIClientWithConfig(srv.URL)
	require.NoError(t, err)
	return api
}

func TestRunSubmit_NoWait(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/research", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "why is the sky blue", body["query"])
		assert.Equal(t, "physics", body["scope_id"])
		writeData(w, http.StatusAccepted, ResearchJob{ID: "job-1", Status: "queued"})
	})
	api := newTestAPI(t, mux)

	var out bytes.Buffer
	err := runSubmit(context.Background(), api, &out, "why is the sky blue", "physics", false, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "Submitted job job-1 (queued)\n", out.String())
}

func TestRunSubmit_WaitPrintsReport(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/research", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusAccepted, ResearchJob{ID: "job-1", Status: "queued"})
	})
	mux.HandleFunc("/research/job-1", func(w http.ResponseWriter, r *http.Request) {
		status := "processing"
		if atomic.AddInt32(&polls, 1) >= 2 {
			status = "completed"
		}
		writeData(w, http.StatusOK, ResearchJob{ID: "job-1", Status: status})
	})
	mux.HandleFunc("/research/job-1/result", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]interface{}{
			"job_id":    "job-1",
			"synthesis": "# Findings",
			"sources": []map[string]interface{}{
				{"title": "Rayleigh scattering", "retrieval_method": "web", "credibility_tier": "AUTHORITATIVE", "composite_score": 0.8},
			},
		})
	})
	api := newTestAPI(t, mux)

	var out bytes.Buffer
	err := runSubmit(context.Background(), api, &out, "q", "", true, 10*time.Millisecond, false)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "# Findings")
	assert.Contains(t, out.String(), "[1] Rayleigh scattering (AUTHORITATIVE, 0.80)")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(2))
}

func TestRunSubmit_WaitReportsFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/research", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusAccepted, ResearchJob{ID: "job-1", Status: "queued"})
	})
	mux.HandleFunc("/research/job-1", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, ResearchJob{ID: "job-1", Status: "failed", ErrorMessage: "retrieval exploded"})
	})
	api := newTestAPI(t, mux)

	err := runSubmit(context.Background(), api, &bytes.Buffer{}, "q", "", true, 10*time.Millisecond, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval exploded")
}

func TestRunStatus_Text(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/research/job-1", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, ResearchJob{
			ID:                 "job-1",
			Query:              "q",
			Status:             "processing",
			CurrentStage:       "retrieval",
			StageProgress:      map[string]int{"decomposition": 100, "retrieval": 50},
			QueryDecomposition: []string{"q", "sub"},
		})
	})
	api := newTestAPI(t, mux)

	var out bytes.Buffer
	require.NoError(t, runStatus(api, &out, "job-1", false))
	assert.Contains(t, out.String(), "Status: processing")
	assert.Contains(t, out.String(), "Stage: retrieval (50%)")
	assert.Contains(t, out.String(), "  - sub")
}

func TestRunCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/research/job-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]bool{"cancelled": true})
	})
	mux.HandleFunc("/research/job-2/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]bool{"cancelled": false})
	})
	api := newTestAPI(t, mux)

	var out bytes.Buffer
	require.NoError(t, runCancel(api, &out, "job-1"))
	require.NoError(t, runCancel(api, &out, "job-2"))
	assert.Equal(t, "Cancelled job job-1\nJob job-2 had already finished\n", out.String())
}

func TestRunQueue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/research/queue", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, QueueSummary{
			Counts:  map[string]int{"queued": 2, "completed": 5},
			Pending: 2,
			Active:  1,
		})
	})
	api := newTestAPI(t, mux)

	var out bytes.Buffer
	require.NoError(t, runQueue(api, &out, false))
	assert.Contains(t, out.String(), "Pending: 2\nActive: 1\n")
	assert.Contains(t, out.String(), "completed")

	out.Reset()
	require.NoError(t, runQueue(api, &out, true))
	var summary QueueSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 5, summary.Counts["completed"])
}

func TestRunWatch_StopsAtTerminalEvent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/research/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-1", r.URL.Query().Get("job_id"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: research:progress\ndata: {\"name\":\"research:progress\",\"job_id\":\"job-1\",\"stage\":\"retrieval\",\"progress\":50,\"ts\":\"2026-03-01T12:00:00Z\"}\n\n"))
		_, _ = w.Write([]byte("event: research:completed\ndata: {\"name\":\"research:completed\",\"job_id\":\"job-1\",\"ts\":\"2026-03-01T12:00:05Z\"}\n\n"))
		_, _ = w.Write([]byte("event: research:queued\ndata: {\"name\":\"research:queued\",\"job_id\":\"job-1\",\"ts\":\"2026-03-01T12:00:06Z\"}\n\n"))
	})
	api := newTestAPI(t, mux)

	var out bytes.Buffer
	require.NoError(t, runWatch(context.Background(), api, &out, "job-1", false))
	assert.Contains(t, out.String(), "12:00:00 job-1 research:progress retrieval 50%")
	assert.Contains(t, out.String(), "12:00:05 job-1 research:completed")
	assert.NotContains(t, out.String(), "research:queued")
}

func TestCommands_Wiring(t *testing.T) {
	assert.Equal(t, "submit", SubmitCmd().Name())
	assert.Equal(t, "status", StatusCmd().Name())
	assert.Equal(t, "cancel", CancelCmd().Name())
	assert.Equal(t, "queue", QueueCmd().Name())
	assert.Equal(t, "result", ResultCmd().Name())
	assert.Equal(t, "report", ReportCmd().Name())
	assert.Equal(t, "watch", WatchCmd().Name())

	scope, err := SubmitCmd().Flags().GetString("scope")
	require.NoError(t, err)
	assert.Empty(t, scope)
}
