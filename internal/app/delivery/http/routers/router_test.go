package routers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/delivery/http/controllers"
	"ipms-mediator/internal/app/delivery/http/middlewares"
	"ipms-mediator/internal/app/services/core/saga"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/responses"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"
	"ipms-mediator/internal/pkg/hl7"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockWorkflow struct {
	mock.Mock
}

func (m *MockWorkflow) HandleLabOrder(ctx context.Context, bundle *fhir_dto.FHIRBundle) saga.Result {
	args := m.Called(ctx, bundle)
	return args.Get(0).(saga.Result)
}

func (m *MockWorkflow) AcceptInboundHL7(ctx context.Context, raw string) (*hl7.Message, string, error) {
	args := m.Called(ctx, raw)
	message, _ := args.Get(0).(*hl7.Message)
	return message, args.String(1), args.Error(2)
}

const labOrderBody = `{"resourceType":"Bundle","type":"transaction","entry":[` +
	`{"resource":{"resourceType":"Task","id":"t1","status":"requested"}}]}`

func newTestRouter(workflow *MockWorkflow, healthy bool) *chi.Mux {
	logger := zap.NewNop()
	internalConfig := &config.InternalConfig{
		App: config.App{
			EndpointPrefix:             "api",
			Version:                    "v1",
			MaxRequests:                1000,
			MaxTimeRequestsPerSeconds:  1,
			RequestBodyLimitInMegabyte: 1,
		},
	}

	checks := map[string]controllers.HealthCheck{
		"redis": func(ctx context.Context) error { return nil },
		"mongodb": func(ctx context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("no reachable servers")
		},
	}

	router := chi.NewRouter()
	SetupRoutes(
		router,
		internalConfig,
		middlewares.NewMiddlewares(logger, internalConfig),
		controllers.NewLabOrderController(logger, workflow, time.Second),
		controllers.NewHL7Controller(logger, workflow, time.Second),
		controllers.NewHealthController(logger, checks),
	)
	return router
}

func TestLabOrderRoutes(t *testing.T) {
	t.Run("Accepts A Valid Order", func(t *testing.T) {
		workflow := new(MockWorkflow)
		workflow.On("HandleLabOrder", mock.Anything, mock.AnythingOfType("*fhir_dto.FHIRBundle")).
			Return(saga.Succeeded(nil)).Once()
		router := newTestRouter(workflow, true)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-orders", strings.NewReader(labOrderBody))
		req.Header.Set(constvars.HeaderContentType, constvars.MIMEApplicationFHIRJSON)
		req.Header.Set(constvars.HeaderXRequestID, "req-1")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "req-1", rr.Header().Get(constvars.HeaderXRequestID))

		var body struct {
			Success bool                       `json:"success"`
			Data    responses.LabOrderAccepted `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, "t1", body.Data.TaskID)
		assert.Equal(t, constvars.TopicSendADTToIPMS, body.Data.Topic)
		workflow.AssertExpectations(t)
	})

	t.Run("Rejects Malformed JSON", func(t *testing.T) {
		workflow := new(MockWorkflow)
		router := newTestRouter(workflow, true)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-orders", strings.NewReader(`{"resourceType":`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.NotEmpty(t, rr.Header().Get(constvars.HeaderXRequestID))
		workflow.AssertNotCalled(t, "HandleLabOrder")
	})

	t.Run("Rejects A Non Bundle", func(t *testing.T) {
		workflow := new(MockWorkflow)
		router := newTestRouter(workflow, true)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-orders", strings.NewReader(`{"resourceType":"Patient","entry":[{}]}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		workflow.AssertNotCalled(t, "HandleLabOrder")
	})

	t.Run("Reports Workflow Rejection", func(t *testing.T) {
		workflow := new(MockWorkflow)
		workflow.On("HandleLabOrder", mock.Anything, mock.Anything).
			Return(saga.Failed(nil, exceptions.ErrBundleTaskCount(nil, 2))).Once()
		router := newTestRouter(workflow, true)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-orders", strings.NewReader(labOrderBody))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		workflow.AssertExpectations(t)
	})

	t.Run("Rejects An Oversized Body", func(t *testing.T) {
		workflow := new(MockWorkflow)
		router := newTestRouter(workflow, true)

		oversized := `{"resourceType":"Bundle","id":"` + strings.Repeat("x", 2<<20) + `","entry":[{}]}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-orders", bytes.NewBufferString(oversized))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		workflow.AssertNotCalled(t, "HandleLabOrder")
	})
}

func TestHL7Routes(t *testing.T) {
	raw := "MSH|^~\\&|IPMS|HOSP|MEDIATOR|SHR|20240101120000||ORU^R01|C9|P|2.5\rOBR|1"

	t.Run("Queues A Result", func(t *testing.T) {
		workflow := new(MockWorkflow)
		workflow.On("AcceptInboundHL7", mock.Anything, raw).
			Return(&hl7.Message{Type: "ORU^R01", ControlID: "C9"}, constvars.TopicHandleORUFromIPMS, nil).Once()
		router := newTestRouter(workflow, true)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7", strings.NewReader(raw))
		req.Header.Set(constvars.HeaderContentType, constvars.MIMETextPlain)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusAccepted, rr.Code)
		var body struct {
			Data responses.HL7Queued `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "C9", body.Data.ControlID)
		assert.Equal(t, constvars.TopicHandleORUFromIPMS, body.Data.Topic)
		workflow.AssertExpectations(t)
	})

	t.Run("Rejects Text That Is Not HL7", func(t *testing.T) {
		workflow := new(MockWorkflow)
		router := newTestRouter(workflow, true)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7", strings.NewReader("hello"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		workflow.AssertNotCalled(t, "AcceptInboundHL7")
	})

	t.Run("Unsupported Message Type", func(t *testing.T) {
		workflow := new(MockWorkflow)
		workflow.On("AcceptInboundHL7", mock.Anything, mock.Anything).
			Return(&hl7.Message{Type: "ORM^O01"}, "", exceptions.ErrHL7UnsupportedType(nil, "ORM^O01")).Once()
		router := newTestRouter(workflow, true)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7", strings.NewReader("MSH|^~\\&|IPMS|HOSP|MEDIATOR|SHR|20240101120000||ORM^O01|C1|P|2.5"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestHealthRoute(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newTestRouter(new(MockWorkflow), true).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Dependency Down", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newTestRouter(new(MockWorkflow), false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var body struct {
			Success bool             `json:"success"`
			Data    responses.Health `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, "down", body.Data.Checks["mongodb"])
		assert.Equal(t, "up", body.Data.Checks["redis"])
	})
}
