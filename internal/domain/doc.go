// Package domain models EPA Air Quality System (AQS) sensor series and the
// outlier verdicts computed over them.
//
// # Data Source
//
// Readings originate from the EPA AQS pre-generated daily and hourly summary
// files. An upstream collector downloads the yearly extracts, combines them
// per variable, and partitions them into one file per site per variable.
// This package never fetches or partitions data itself; it only describes
// the partitioned series and the verdict records produced from them.
//
// # AQS Data Conventions
//
// Site identifier:
//
//	"<state code><county code><site number>" concatenated without padding,
//	e.g. state 6, county 37, site 1103 → "6371103".
//
// Date and time format:
//
//	"Date Local" is a local calendar date, "YYYY-MM-DD".
//	"Time Local" is a local hour, "HH:MM" (always ":00" in hourly extracts).
//	Dates are treated as timezone-free and stored as UTC midnight.
//
// Values:
//
//	Daily files carry "Arithmetic Mean" (or "AQI" for the AQI variable),
//	renamed to the variable name by the partitioner. Hourly files carry
//	"Sample Measurement". Empty cells, "NaN" and "null" are missing values
//	and are represented in memory as NaN.
//
// # Derived Columns
//
// The spline scorers cache their output back onto the daily series:
//
//	daily_spline_residual  |y − ŷ| per day from one spline over the full history
//	hourly_spline_mse      per-day mean squared error of a spline fit to that day's hours
//
// The two columns intentionally use different error norms; thresholds
// downstream are calibrated per metric.
//
// # Verdicts
//
// Every detector produces exactly one [Verdict] per site. Spline detectors
// flag with outlier=1, the density detector with outlier=-1, and the status
// label is "Yes" exactly when the outlier flag is non-zero.
package domain
