package dispatch

// Summary is the aggregated payload for a bulk call (fan-out > 1). Results
// holds the outcomes actually attempted, in index order; its length is short of
// TotalItems only when fail-fast stopped the loop early.
type Summary struct {
	TotalItems   int       `json:"totalItems"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`
	Results      []Outcome `json:"results"`
}

// Aggregate folds the outcome list into the caller-facing payload.
//
// A fan-out of 1 bypasses bulk semantics: the single outcome is unwrapped to
// its bare value on success and propagated as a direct error on failure. For
// fan-out > 1 a Summary is returned; per-item failures are data in the summary,
// not errors — except under fail-fast, where the first failure is additionally
// returned as the terminal error alongside the partial summary.
func Aggregate(outcomes []Outcome, requestedN int, failFast bool) (any, error) {
	if requestedN == 1 {
		if len(outcomes) == 0 {
			return nil, nil
		}
		single := outcomes[0]
		if single.Err != nil {
			return nil, single.Err
		}
		return single.Value, nil
	}

	summary := &Summary{
		TotalItems: requestedN,
		Results:    outcomes,
	}
	var firstErr error
	for _, o := range outcomes {
		if o.Success {
			summary.SuccessCount++
		} else {
			summary.ErrorCount++
			if firstErr == nil {
				firstErr = o.Err
			}
		}
	}

	if failFast && firstErr != nil {
		return summary, firstErr
	}
	return summary, nil
}
