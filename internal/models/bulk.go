package models

type BulkResult string

const (
	BulkApplied BulkResult = "applied"
	BulkFailed  BulkResult = "failed"
)

// BulkOutcome is the per-team result of a bulk admin operation.
type BulkOutcome struct {
	TeamID int64      `json:"teamId"`
	Result BulkResult `json:"result"`
	Kind   string     `json:"kind,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// BulkReport lists outcomes in the order the ids were first given.
type BulkReport struct {
	Outcomes []BulkOutcome `json:"outcomes"`
	Applied  int           `json:"applied"`
	Failed   int           `json:"failed"`
}

// DedupIDs drops repeated ids, keeping first occurrences in order.
func DedupIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
