package query

// Record is one hit in a result set.
type Record struct {
	Identifier string  `json:"identifier"`
	Score      float64 `json:"score"`
}

// Response is the decoded body of a search response. Only result_set is
// required; the remaining fields are informational.
type Response struct {
	QueryID    string   `json:"query_id"`
	ResultType string   `json:"result_type"`
	TotalCount *int     `json:"total_count,omitempty"`
	ResultSet  []Record `json:"result_set"`
}

// Identifiers returns the identifier of every record in response order.
func (r *Response) Identifiers() []string {
	if r == nil || len(r.ResultSet) == 0 {
		return []string{}
	}
	ids := make([]string, len(r.ResultSet))
	for i, rec := range r.ResultSet {
		ids[i] = rec.Identifier
	}
	return ids
}

// Total returns the server-reported total_count, or -1 when the response
// did not carry one.
func (r *Response) Total() int {
	if r == nil || r.TotalCount == nil {
		return -1
	}
	return *r.TotalCount
}
