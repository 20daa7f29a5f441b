package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"imgpipe/internal/models"
	"imgpipe/internal/payload"
)

// PathParamFileName names the identifier path parameter of metadata requests.
const PathParamFileName = "file-name"

// APIRequest is the HTTP-shaped event accepted by the ingestion and metadata
// boundaries.
type APIRequest struct {
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded"`
	Headers         map[string]string `json:"headers"`
	PathParameters  map[string]string `json:"pathParameters"`
}

// APIResponse carries an HTTP status and a JSON body string.
type APIResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
}

// StatusCode maps an error kind to the HTTP status reported at the boundary.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case models.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleIngest runs the ingestion stage for an HTTP-shaped event.
func (p *Pipeline) HandleIngest(ctx context.Context, req APIRequest) APIResponse {
	res, err := p.Ingest(ctx, payload.Request{
		Body:          req.Body,
		Base64Encoded: req.IsBase64Encoded,
		Headers:       req.Headers,
	})
	if err != nil {
		p.log.Error().Err(err).Int("status", StatusCode(err)).Msg("ingest failed")
		return errorResponse(err)
	}
	return jsonResponse(http.StatusOK, res)
}

// HandleMetadata runs the composition stage for the "file-name" path parameter.
func (p *Pipeline) HandleMetadata(ctx context.Context, req APIRequest) APIResponse {
	meta, err := p.ComposeMetadata(ctx, req.PathParameters[PathParamFileName])
	if err != nil {
		p.log.Error().Err(err).Int("status", StatusCode(err)).Msg("metadata failed")
		return errorResponse(err)
	}
	return jsonResponse(http.StatusOK, meta)
}

func errorResponse(err error) APIResponse {
	return jsonResponse(StatusCode(err), map[string]string{"error": err.Error()})
}

func jsonResponse(status int, v any) APIResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encode response"}`)
	}
	return APIResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
