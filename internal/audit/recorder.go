// internal/audit/recorder.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"package-orchestrator/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

const DefaultIndex = "package-events"

// Event kinds
const (
	KindStageChanged        = "stage_changed"
	KindSubmissionSucceeded = "submission_succeeded"
	KindSubmissionError     = "submission_error"
	KindSubmissionFailed    = "submission_failed"
	KindReferralSubmitted   = "referral_submitted"
	KindDataIntegrity       = "data_integrity"
	KindReconciliationRun   = "reconciliation_run"
)

// Event is one orchestration fact written to the audit index.
type Event struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	PackageID string                 `json:"packageId,omitempty"`
	JobID     string                 `json:"jobId,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Recorder is implemented by the Elasticsearch recorder and by Nop.
// Record never returns an error; audit failures must not affect orchestration.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}

// Nop returns a recorder that drops every event.
func Nop() Recorder { return nopRecorder{} }

type ESRecorder struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	logger  logger.Logger
	now     func() time.Time
}

func NewESRecorder(client *elasticsearch.Client, index string, log logger.Logger) *ESRecorder {
	if index == "" {
		index = DefaultIndex
	}
	return &ESRecorder{
		client:  client,
		index:   index,
		timeout: 5 * time.Second,
		logger:  log.WithFields(map[string]interface{}{"component": "audit"}),
		now:     time.Now,
	}
}

func (r *ESRecorder) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}

	if err := r.put(ctx, ev); err != nil {
		r.logger.Warn("audit event not recorded", map[string]interface{}{
			"kind":      ev.Kind,
			"packageId": ev.PackageID,
			"error":     err.Error(),
		})
	}
}

func (r *ESRecorder) put(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: ev.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index status %s: %s", res.Status(), strings.TrimSpace(string(msg)))
	}
	return nil
}

// History returns the most recent events for a package, newest first.
func (r *ESRecorder) History(ctx context.Context, packageID string, size int) ([]Event, error) {
	if size <= 0 {
		size = 20
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"packageId.keyword": packageID},
		},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{r.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("search audit events: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("search audit events: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}

	events := make([]Event, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		events = append(events, h.Source)
	}
	return events, nil
}
