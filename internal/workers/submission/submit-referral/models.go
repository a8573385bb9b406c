package submitreferral

type Input struct {
	PackageID string `json:"packageId"`
	Attempt   int    `json:"attempt"`
}

type Output struct {
	PackageID      string `json:"packageId"`
	ExternalCaseID string `json:"externalCaseId,omitempty"`
	Stage          string `json:"stage,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
}
