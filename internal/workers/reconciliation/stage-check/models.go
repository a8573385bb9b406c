package stagecheck

// Output summarizes one reconciliation run.
type Output struct {
	Checked       int `json:"checked"`
	Updated       int `json:"updated"`
	Missing       int `json:"missing"`
	FailedBatches int `json:"failedBatches"`
	Batches       int `json:"batches"`
}
