package audit

// Entry is one line in the hash-chained JSONL rejection log. All
// fields are concrete (no map[string]any) so json.Marshal field order
// is deterministic and hashes reproduce.
type Entry struct {
	Timestamp string `json:"ts"`
	Source    string `json:"source"`
	Remote    string `json:"remote"`
	Reason    string `json:"reason"`
	Events    int    `json:"events"`
	Status    int    `json:"status"`
	PrevHash  string `json:"prev_hash"`
}
