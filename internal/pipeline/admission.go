package pipeline

import (
	"strconv"
)

// Decision is the outcome of admission control for one statement.
type Decision struct {
	Admitted bool
	Reason   string
}

// Controller admits a statement only when its estimate is known, bounded and
// within RowLimit. Estimation failures and unbounded estimates are rejected.
type Controller struct {
	RowLimit float64
}

func (c Controller) Decide(estimate Estimate, estimateErr error) Decision {
	limit := strconv.FormatFloat(c.RowLimit, 'f', -1, 64)
	switch {
	case estimateErr != nil:
		return Decision{Reason: "estimate unavailable: " + estimateErr.Error()}
	case estimate.Unbounded:
		return Decision{Reason: "estimate unbounded, limit " + limit + " rows"}
	case estimate.Rows > c.RowLimit:
		return Decision{Reason: "estimated rows " + estimate.String() + " exceed limit " + limit}
	default:
		return Decision{Admitted: true, Reason: "estimated rows " + estimate.String() + " within limit " + limit}
	}
}
