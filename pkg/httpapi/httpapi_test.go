package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/fake"
	"go.uber.org/zap"

	"github.com/kubermatic/kube-workspace-operator/pkg/config"
	"github.com/kubermatic/kube-workspace-operator/pkg/kubeadapter"
	"github.com/kubermatic/kube-workspace-operator/pkg/userdirectory"
	"github.com/kubermatic/kube-workspace-operator/pkg/workspace"
)

const testKey = "ssh-ed25519 AAA..."

func newServer() *Server {
	client := fake.NewSimpleClientset()
	adapter := kubeadapter.NewFromClients(client, nil, nil, nil, nil)
	reconciler := workspace.New(adapter, "ws", corev1.PodSpec{}, 10<<30, nil, nil)
	directory := userdirectory.New([]config.User{{Username: "alice", SSHPublicKey: testKey}})
	return New(directory, reconciler, zap.NewNop())
}

func postQuery(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body)).WithContext(context.Background())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPodStartUnknownUserIsUnauthorized(t *testing.T) {
	s := newServer()
	rec := postQuery(t, s, `{"PodStart":{"username":"mallory","ssh_public_key":"x"}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "authentication failed", env.Error.Message)
}

func TestPodStartSucceeds(t *testing.T) {
	s := newServer()
	rec := postQuery(t, s, `{"PodStart":{"username":"alice","ssh_public_key":"`+testKey+`"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Ok)
	assert.Equal(t, "starting", env.Ok.Phase)
	assert.Nil(t, env.Ok.SSHAddress)
}

func TestQueryRejectsMultipleVariants(t *testing.T) {
	s := newServer()
	body := `{"PodStart":{"username":"alice","ssh_public_key":"` + testKey + `"},"PodStop":{"username":"alice","ssh_public_key":"` + testKey + `"}}`
	rec := postQuery(t, s, body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := newServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestQueryRejectsOversizedBody(t *testing.T) {
	s := newServer()
	huge := bytes.Repeat([]byte("a"), maxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(huge))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
