package submitpackage

import "package-orchestrator/internal/models"

type Input struct {
	PackageID string `json:"packageId"`
	Attempt   int    `json:"attempt"`
}

type Output struct {
	PackageID      string               `json:"packageId"`
	ExternalCaseID string               `json:"externalCaseId,omitempty"`
	Stage          string               `json:"stage,omitempty"`
	Status         models.PackageStatus `json:"status"`
	Skipped        bool                 `json:"skipped,omitempty"`
}
