// internal/registry/client.go
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/metrics"

	"github.com/go-playground/validator/v10"
)

const maxErrorBody = 1024

// Doer sends HTTP requests. commonhttp.Client and *http.Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks JSON to the external case registry.
type Client struct {
	baseURL    string
	httpClient Doer
	validate   *validator.Validate
}

func NewClient(baseURL string, httpClient Doer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		validate:   validator.New(),
	}
}

// CreateCase opens a case and returns its id.
func (c *Client) CreateCase(ctx context.Context, req *CreateCaseRequest) (string, error) {
	const op = "create case"
	if err := c.check(op, req); err != nil {
		return "", err
	}
	var resp createdResponse
	if err := c.send(ctx, op, http.MethodPost, "/cases", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.NewRegistryEmptyResponseError(op)
	}
	return resp.ID, nil
}

// CreateParticipant registers a participant on a case and returns its id.
func (c *Client) CreateParticipant(ctx context.Context, req *CreateParticipantRequest) (string, error) {
	const op = "create participant"
	if err := c.check(op, req); err != nil {
		return "", err
	}
	var resp createdResponse
	if err := c.send(ctx, op, http.MethodPost, "/participants", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.NewRegistryEmptyResponseError(op)
	}
	return resp.ID, nil
}

// UpdateCaseStage sets the stage of a case. Setting the current stage again is harmless.
func (c *Client) UpdateCaseStage(ctx context.Context, caseID, stage string) error {
	const op = "update case stage"
	body := &updateStageRequest{Stage: stage}
	if err := c.check(op, body); err != nil {
		return err
	}
	if caseID == "" {
		return errors.NewRegistryRequestRejectedError(op, 0, "case id is required")
	}
	return c.send(ctx, op, http.MethodPatch, "/cases/"+url.PathEscape(caseID)+"/stage", body, nil)
}

// SearchCases returns the cases matching filter, an expression built with AnyOf.
func (c *Client) SearchCases(ctx context.Context, filter string) ([]Case, error) {
	const op = "search cases"
	var resp searchResponse
	path := "/cases?filter=" + url.QueryEscape(filter)
	if err := c.send(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) check(op string, req interface{}) error {
	if err := c.validate.Struct(req); err != nil {
		return errors.NewRegistryRequestRejectedError(op, 0, "invalid request: "+err.Error())
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(errors.CodeOf(err))
		}
		metrics.RegistryRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.NewInternalError("marshal "+op+" request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.NewInternalError("build "+op+" request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewRegistryUnavailableError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewRegistryUnavailableError(op, fmt.Errorf("read response body: %w", err))
	}

	if err := statusError(op, resp.StatusCode, respBody); err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.NewInternalError("decode "+op+" response", err)
	}
	return nil
}

func statusError(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests,
		status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.NewRegistryUnavailableError(op, fmt.Errorf("status %d: %s", status, truncate(body)))
	default:
		return errors.NewRegistryRequestRejectedError(op, status, truncate(body))
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
