package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"package-orchestrator/internal/common/errors"
	commonhttp "package-orchestrator/internal/common/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", commonhttp.NewClient(2*time.Second))
}

func validCase() *CreateCaseRequest {
	return &CreateCaseRequest{ExternalReference: "pkg-1", OwnerID: "owner-1", Subtype: "Foster", HasPartner: true}
}

func TestCreateCase(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cases", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pkg-1", body["externalReference"])
		assert.Equal(t, true, body["hasPartner"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"C1"}`))
	})

	id, err := c.CreateCase(context.Background(), validCase())
	require.NoError(t, err)
	assert.Equal(t, "C1", id)
}

func TestCreateCase_EmptyID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":""}`))
	})

	_, err := c.CreateCase(context.Background(), validCase())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRegistryEmptyResponse, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestCreateCase_InvalidRequestNeverSent(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := c.CreateCase(context.Background(), &CreateCaseRequest{ExternalReference: "pkg-1"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRegistryRequestRejected, errors.CodeOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		wantCode  errors.ErrorCode
		retryable bool
	}{
		{http.StatusInternalServerError, errors.ErrCodeRegistryUnavailable, true},
		{http.StatusBadGateway, errors.ErrCodeRegistryUnavailable, true},
		{http.StatusRequestTimeout, errors.ErrCodeRegistryUnavailable, true},
		{http.StatusTooManyRequests, errors.ErrCodeRegistryUnavailable, true},
		{http.StatusUnauthorized, errors.ErrCodeRegistryUnavailable, true},
		{http.StatusForbidden, errors.ErrCodeRegistryUnavailable, true},
		{http.StatusBadRequest, errors.ErrCodeRegistryRequestRejected, true},
		{http.StatusUnprocessableEntity, errors.ErrCodeRegistryRequestRejected, true},
		{http.StatusNotFound, errors.ErrCodeRegistryRequestRejected, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})

			err := c.UpdateCaseStage(context.Background(), "C1", "Application")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	c := NewClient(srv.URL, commonhttp.NewClient(time.Second))

	_, err := c.SearchCases(context.Background(), AnyOf("id", []string{"C1"}))
	assert.Equal(t, errors.ErrCodeRegistryUnavailable, errors.CodeOf(err))
}

func TestUpdateCaseStage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/cases/C1/stage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"stage":"Application"}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.UpdateCaseStage(context.Background(), "C1", "Application"))
}

func TestCreateParticipant(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/participants", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"P1"}`))
	})

	id, err := c.CreateParticipant(context.Background(), &CreateParticipantRequest{
		CaseID:            "C1",
		ExternalReference: "m-1",
		Role:              RolePrimary,
		FirstName:         "Ada",
		LastName:          "Lovelace",
		DateOfBirth:       "1985-06-01",
		Email:             "ada@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "P1", id)

	_, err = c.CreateParticipant(context.Background(), &CreateParticipantRequest{
		CaseID:            "C1",
		ExternalReference: "m-1",
		Role:              RolePrimary,
		FirstName:         "Ada",
		LastName:          "Lovelace",
		Email:             "not-an-email",
	})
	assert.Equal(t, errors.ErrCodeRegistryRequestRejected, errors.CodeOf(err))
}

func TestSearchCases(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cases", r.URL.Path)
		assert.Equal(t, "id eq 'C1' or id eq 'C2'", r.URL.Query().Get("filter"))
		_, _ = w.Write([]byte(`{"items":[{"id":"C1","stage":"Application"},{"id":"C2","stage":"Referral"}]}`))
	})

	cases, err := c.SearchCases(context.Background(), AnyOf("id", []string{"C1", "C2"}))
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, Case{ID: "C1", Stage: "Application"}, cases[0])
}

func TestAnyOf(t *testing.T) {
	assert.Equal(t, "id eq 'A'", AnyOf("id", []string{"A"}))
	assert.Equal(t, "id eq 'A' or id eq 'B'", AnyOf("id", []string{"A", "B"}))
	assert.Equal(t, "id eq 'O''Brien'", AnyOf("id", []string{"O'Brien"}))
	assert.Equal(t, "", AnyOf("id", nil))
}

func TestChunk(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}

	batches := Chunk(ids, 10)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)

	assert.Len(t, Chunk(ids[:10], 10), 1)
	assert.Empty(t, Chunk(nil, 10))
	assert.Len(t, Chunk(ids[:3], 0), 3)
}
