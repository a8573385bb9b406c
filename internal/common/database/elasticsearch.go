// internal/common/database/elasticsearch.go
package database

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"package-orchestrator/internal/common/config"

	"github.com/elastic/go-elasticsearch/v8"
)

// auditMapping keeps the lookup fields of audit events exact-match so that
// package history queries filter on the keyword, not on analysed text.
const auditMapping = `{
  "mappings": {
    "properties": {
      "id":        {"type": "keyword"},
      "kind":      {"type": "keyword"},
      "packageId": {"type": "keyword"},
      "jobId":     {"type": "keyword"},
      "timestamp": {"type": "date"},
      "details":   {"type": "object", "enabled": false}
    }
  }
}`

// ElasticsearchClient holds the cluster connection behind the audit trail.
type ElasticsearchClient struct {
	Client *elasticsearch.Client
}

func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	addresses := cfg.Addresses
	if len(addresses) == 0 {
		if cfg.URL == "" {
			return nil, fmt.Errorf("elasticsearch address is empty")
		}
		addresses = []string{cfg.URL}
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ElasticsearchClient{Client: es}, nil
}

func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

// EnsureAuditIndex creates index with the audit mapping unless it exists.
func (c *ElasticsearchClient) EnsureAuditIndex(ctx context.Context, index string) (bool, error) {
	res, err := c.Client.Indices.Exists([]string{index}, c.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", index, err)
	}
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return false, nil
	case http.StatusNotFound:
	default:
		return false, fmt.Errorf("check index %s: %s", index, res.Status())
	}

	res, err = c.Client.Indices.Create(index,
		c.Client.Indices.Create.WithContext(ctx),
		c.Client.Indices.Create.WithBody(strings.NewReader(auditMapping)),
	)
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	// Another process may have created it in between.
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return false, fmt.Errorf("create index %s: %s", index, res.Status())
	}
	return !res.IsError(), nil
}
