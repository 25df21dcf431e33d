package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubmitJob_ReturnsJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "owner-1", req.SystemUserID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(jobResponse{JobID: "job-42"})
	}))
	defer srv.Close()

	agent := NewHTTPAgent(srv.URL, nil)
	jobID, err := agent.SubmitJob(context.Background(), "owner-1", "diagnose this")
	require.NoError(t, err)
	require.Equal(t, "job-42", jobID)
}

func TestSubmitJob_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	agent := NewHTTPAgent(srv.URL, nil)
	_, err := agent.SubmitJob(context.Background(), "owner-1", "diagnose this")
	require.Error(t, err)
}
