package domain

import "errors"

// Data-quality conditions. They are recovered per site and never abort a batch.
var (
	// ErrDegenerateBasis reports a knot/degree/sample combination that cannot
	// form a valid spline basis.
	ErrDegenerateBasis = errors.New("degenerate spline basis")
	// ErrSingularFit reports a least-squares solve that failed numerically.
	ErrSingularFit = errors.New("singular spline fit")
	// ErrInsufficientData reports a series with too few values to fit or score.
	ErrInsufficientData = errors.New("insufficient data")
)

// Lookup conditions surfaced to API callers.
var (
	// ErrSiteNotFound reports a site with no data for the requested variable.
	ErrSiteNotFound = errors.New("site not found")
	// ErrRunNotFound reports that no run has been recorded for a detector and variable.
	ErrRunNotFound = errors.New("run not found")
)
