package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestRouter(secret string, handle Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	hash, _ := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	d := NewDispatcher(string(hash), handle, nil)
	r := gin.New()
	d.Register(r)
	return r
}

func TestServe_RejectsMissingSecret(t *testing.T) {
	r := newTestRouter("s3cr3t", func(DeploymentReport) error { return nil })
	req := httptest.NewRequest(http.MethodPost, "/webhooks/deployment", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServe_AcceptsValidReport(t *testing.T) {
	var received DeploymentReport
	r := newTestRouter("s3cr3t", func(rep DeploymentReport) error {
		received = rep
		return nil
	})

	body, _ := json.Marshal(DeploymentReport{SessionID: "sess-1", CommitSHA: "abc123", Status: "succeeded"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/deployment", bytes.NewReader(body))
	req.Header.Set("X-Deployment-Secret", "s3cr3t")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "sess-1", received.SessionID)
}

func TestServe_WrongSecretRejected(t *testing.T) {
	r := newTestRouter("s3cr3t", func(DeploymentReport) error { return nil })
	body, _ := json.Marshal(DeploymentReport{SessionID: "sess-1", CommitSHA: "abc", Status: "succeeded"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/deployment", bytes.NewReader(body))
	req.Header.Set("X-Deployment-Secret", "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
