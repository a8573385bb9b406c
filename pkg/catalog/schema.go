// pkg/catalog/schema.go
package catalog

type JobCatalog struct {
	Version  string    `json:"version"`
	JobTypes []JobSpec `json:"jobTypes"`
}

type JobSpec struct {
	Type          string                 `json:"type"`
	DisplayName   string                 `json:"displayName"`
	Description   string                 `json:"description"`
	Keyed         bool                   `json:"keyed"`
	DefaultPolicy PolicySpec             `json:"defaultPolicy"`
	PayloadSchema map[string]interface{} `json:"payloadSchema"`
	ErrorCodes    []string               `json:"errorCodes"`
}

type PolicySpec struct {
	MaxAttempts int    `json:"maxAttempts"`
	Backoff     string `json:"backoff"`
	DelayMs     int    `json:"delayMs"`
	MaxDelayMs  int    `json:"maxDelayMs,omitempty"`
}
