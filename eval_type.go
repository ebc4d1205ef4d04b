package sifudf

import "fmt"

// EvalType describes how a worker evaluates the UDFs of one call, and therefore how its
// results line up with the rows that were sent to it
type EvalType string

const (
	// EvalScalar indicates a row-wise UDF: one result row per input row
	EvalScalar EvalType = "scalar"
	// EvalGroupedAgg indicates a grouped aggregation: one result row per group
	EvalGroupedAgg EvalType = "grouped_agg"
	// EvalGroupedWindow indicates a grouped window function: one result row per input row of each group
	EvalGroupedWindow EvalType = "grouped_window"
	// EvalGroupedMap indicates a grouped map: any number of result rows per group, which are not re-joined with keys
	EvalGroupedMap EvalType = "grouped_map"
)

// ParseEvalType validates a textual EvalType
func ParseEvalType(s string) (EvalType, error) {
	switch t := EvalType(s); t {
	case EvalScalar, EvalGroupedAgg, EvalGroupedWindow, EvalGroupedMap:
		return t, nil
	}
	return "", fmt.Errorf("Unknown evaluation type %q", s)
}

// Grouped returns true iff input must be split into groups before it is sent to a worker
func (t EvalType) Grouped() bool {
	return t != EvalScalar
}

// Combines returns true iff worker results are re-joined with retained key batches
func (t EvalType) Combines() bool {
	return t != EvalGroupedMap
}

// String returns the wire representation of this EvalType
func (t EvalType) String() string {
	return string(t)
}
