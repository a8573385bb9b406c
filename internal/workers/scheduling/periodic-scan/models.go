package periodicscan

// Output counts the jobs one scan produced.
type Output struct {
	CompletenessQueued int `json:"completenessQueued"`
	SubmissionsQueued  int `json:"submissionsQueued"`
	ReferralsQueued    int `json:"referralsQueued"`
	AlreadyQueued      int `json:"alreadyQueued"`
	EnqueueFailures    int `json:"enqueueFailures"`
}
