package identityregistry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/services/external/httpclient"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/utils"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestUpsertPatient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/Patient", r.URL.Path)
		assert.Equal(t, "http://example.org/national-id|123", r.URL.Query().Get("identifier"))
		if r.Header.Get("X-Request-ID") == "fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewIdentityRegistryClient(
		httpclient.New("identity-registry", config.Collaborator{BaseUrl: server.URL, Timeout: time.Second}, zap.NewNop()),
		zap.NewNop(),
	)
	key := workflow.IdentityKey{System: "http://example.org/national-id", Value: "123"}
	patient := json.RawMessage(`{"resourceType":"Patient"}`)

	assert.NoError(t, client.UpsertPatient(context.Background(), patient, key))

	failing := utils.WithRequestID(context.Background(), "fail")
	assert.Error(t, client.UpsertPatient(failing, patient, key))
}
