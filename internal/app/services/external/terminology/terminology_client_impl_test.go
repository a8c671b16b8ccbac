package terminology

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/services/external/httpclient"
	"ipms-mediator/internal/pkg/constvars"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const translateResponse = `{
	"resourceType": "Parameters",
	"parameter": [
		{"name": "result", "valueBoolean": true},
		{"name": "match", "part": [
			{"name": "equivalence", "valueCode": "wider"},
			{"name": "concept", "valueCoding": {"system": "http://example.org/nlims", "code": "PANEL-1", "display": "Panel"}}
		]},
		{"name": "match", "part": [
			{"name": "equivalence", "valueCode": "equivalent"},
			{"name": "concept", "valueCoding": {"system": "http://loinc.org", "code": "24331-1"}}
		]},
		{"name": "match", "part": [
			{"name": "equivalence", "valueCode": "equivalent"}
		]}
	]
}`

func newClient(t *testing.T, handler http.HandlerFunc) *TerminologyClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := httpclient.New("terminology", config.Collaborator{BaseUrl: server.URL, Timeout: time.Second}, zap.NewNop())
	return NewTerminologyClient(client, zap.NewNop()).(*TerminologyClient)
}

func TestGetMappings(t *testing.T) {
	t.Run("Parses Translate Matches", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ConceptMap/$translate", r.URL.Path)
			assert.Equal(t, "http://example.org/source", r.URL.Query().Get("system"))
			assert.Equal(t, "T1", r.URL.Query().Get("code"))
			w.Write([]byte(translateResponse))
		})

		mappings, err := client.GetMappings(context.Background(), "http://example.org/source", "T1")
		require.NoError(t, err)
		require.Len(t, mappings, 2)
		assert.Equal(t, constvars.FhirConceptMapTypeBroaderThan, mappings[0].MapType)
		assert.Equal(t, "PANEL-1", mappings[0].ToCode)
		assert.Equal(t, constvars.FhirConceptMapTypeSameAs, mappings[1].MapType)
		assert.Equal(t, "http://loinc.org", mappings[1].ToSystem)
	})

	t.Run("Unknown Code Is Not An Error", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		mappings, err := client.GetMappings(context.Background(), "http://example.org/source", "nope")
		require.NoError(t, err)
		assert.Empty(t, mappings)
	})

	t.Run("Server Failure Is Reported", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.GetMappings(context.Background(), "http://example.org/source", "T1")
		assert.Error(t, err)
	})
}
