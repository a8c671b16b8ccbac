package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxErrorBodyLength = 512

// Request describes one call to a collaborator. Body is sent as is when it is
// a []byte or string and JSON encoded otherwise.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        interface{}
	ContentType string
	Accept      string
}

// Client is the shared HTTP transport for every collaborator: per-call
// timeout, basic auth, a circuit breaker and an outbound rate limiter.
type Client struct {
	name     string
	baseURL  string
	username string
	password string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	log      *zap.Logger
}

func New(name string, cfg config.Collaborator, logger *zap.Logger) *Client {
	failures := cfg.BreakerFailures
	if failures < 1 {
		failures = 5
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		name:     name,
		baseURL:  strings.TrimSuffix(cfg.BaseUrl, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
		log:      logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: cfg.BreakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(failures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("httpclient.Client breaker state changed",
					zap.String(constvars.LoggingCollaboratorKey, name),
					zap.String(constvars.LoggingBreakerStateFromKey, from.String()),
					zap.String(constvars.LoggingBreakerStateToKey, to.String()),
				)
			},
		}),
	}
}

func (c *Client) Name() string {
	return c.name
}

// serverError marks a response the breaker counts as a failure.
type serverError struct {
	statusCode int
	body       []byte
}

func (e *serverError) Error() string {
	return fmt.Sprintf("status %d: %s", e.statusCode, truncate(e.body))
}

// Do sends request and decodes a 2xx response into out. out may be nil, a
// *string or *[]byte for the raw body, or any JSON target. The returned
// status is 0 when no response was received.
func (c *Client) Do(ctx context.Context, request Request, out interface{}) (int, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, exceptions.ErrCollaboratorRateLimited(err, c.name)
	}

	body, err := encodeBody(request.Body)
	if err != nil {
		return 0, exceptions.ErrCannotMarshalJSON(err)
	}

	endpoint := c.baseURL
	if path := strings.TrimPrefix(request.Path, "/"); path != "" {
		endpoint += "/" + path
	}
	if len(request.Query) > 0 {
		endpoint += "?" + request.Query.Encode()
	}

	var (
		statusCode   int
		responseBody []byte
	)
	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, request.Method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, exceptions.ErrCreateHTTPRequest(err)
		}
		if body != nil {
			contentType := request.ContentType
			if contentType == "" {
				contentType = constvars.MIMEApplicationFHIRJSON
			}
			req.Header.Set(constvars.HeaderContentType, contentType)
		}
		accept := request.Accept
		if accept == "" {
			accept = constvars.MIMEApplicationFHIRJSON
		}
		req.Header.Set(constvars.HeaderAccept, accept)
		if requestID != "" {
			req.Header.Set(constvars.HeaderXRequestID, requestID)
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, exceptions.ErrServerDeadlineExceeded(err)
			}
			return nil, exceptions.ErrSendHTTPRequest(err)
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		responseBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, exceptions.ErrSendHTTPRequest(err)
		}
		if resp.StatusCode >= constvars.StatusInternalServerError {
			return nil, &serverError{statusCode: resp.StatusCode, body: responseBody}
		}
		return nil, nil
	})

	if err != nil {
		c.log.Error("httpclient.Client.Do error calling collaborator",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingCollaboratorKey, c.name),
			zap.String(constvars.LoggingMethodKey, request.Method),
			zap.String(constvars.LoggingEndpointKey, endpoint),
			zap.Int(constvars.LoggingStatusCodeKey, statusCode),
			zap.Error(err),
		)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, exceptions.ErrCollaboratorBreakerOpen(err, c.name)
		}
		var upstream *serverError
		if errors.As(err, &upstream) {
			return statusCode, exceptions.ErrCollaboratorStatus(err, c.name, statusCode)
		}
		return statusCode, err
	}

	if statusCode < constvars.StatusOK || statusCode >= 300 {
		statusErr := fmt.Errorf("status %d: %s", statusCode, truncate(responseBody))
		c.log.Warn("httpclient.Client.Do collaborator rejected request",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingCollaboratorKey, c.name),
			zap.String(constvars.LoggingMethodKey, request.Method),
			zap.String(constvars.LoggingEndpointKey, endpoint),
			zap.Int(constvars.LoggingStatusCodeKey, statusCode),
		)
		return statusCode, exceptions.ErrCollaboratorStatus(statusErr, c.name, statusCode)
	}

	if err := decodeBody(responseBody, out); err != nil {
		return statusCode, exceptions.ErrDecodeResponse(err, request.Path, c.name)
	}

	c.log.Debug("httpclient.Client.Do succeeded",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingCollaboratorKey, c.name),
		zap.String(constvars.LoggingEndpointKey, endpoint),
		zap.Int(constvars.LoggingStatusCodeKey, statusCode),
		zap.Int(constvars.LoggingResponseLengthKey, len(responseBody)),
	)
	return statusCode, nil
}

func encodeBody(body interface{}) ([]byte, error) {
	switch value := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return value, nil
	case string:
		return []byte(value), nil
	case json.RawMessage:
		return value, nil
	default:
		return json.Marshal(value)
	}
}

func decodeBody(body []byte, out interface{}) error {
	switch target := out.(type) {
	case nil:
		return nil
	case *string:
		*target = string(body)
		return nil
	case *[]byte:
		*target = body
		return nil
	default:
		if len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		return json.Unmarshal(body, out)
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyLength {
		return string(body[:maxErrorBodyLength]) + "..."
	}
	return string(body)
}
