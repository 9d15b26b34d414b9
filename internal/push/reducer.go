package push

// EndpointResult is the classified outcome of delivering to one endpoint.
type EndpointResult struct {
	Endpoint Endpoint
	Outcome  Outcome
}

// CountsAsSuccess reports whether the result lets the item be marked sent.
// A pruned endpoint reached its intended terminal state, so it counts too.
func (r EndpointResult) CountsAsSuccess() bool {
	return r.Outcome.Kind == OutcomeSuccess || r.Outcome.Kind == OutcomePermanentFailure
}

// Verdict is the item-level fold of all endpoint results.
type Verdict struct {
	Delivered bool
	LastError string
	Succeeded int
	Failed    int
	Pruned    int
}

// Reduce folds endpoint results into a verdict. Any success is enough.
// LastError is the diagnostic of the last result that recorded one.
func Reduce(results []EndpointResult) Verdict {
	var v Verdict
	for _, r := range results {
		switch r.Outcome.Kind {
		case OutcomeSuccess:
			v.Succeeded++
		case OutcomePermanentFailure:
			v.Succeeded++
			v.Pruned++
		default:
			v.Failed++
		}

		if r.Outcome.Message != "" {
			v.LastError = r.Outcome.Message
		}
	}

	v.Delivered = v.Succeeded > 0
	return v
}
