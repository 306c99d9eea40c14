// Package optypes defines OpType, the enumeration of the structural tensor
// operations supported by tensorir.
package optypes

import (
	"fmt"

	"github.com/gomlx/tensorir/internal/utils"
)

// OpType is an enum of the operations a tensorir graph can hold.
type OpType int

const (
	Invalid OpType = iota

	// Constant materializes a Literal. It is the thin interface to constant
	// values used by fold decisions; it has no inputs.
	Constant

	// Convert changes the element type of a tensor, keeping its shape.
	Convert

	// Yield terminates the closure body of Generate, Pad and InParallel.
	Yield

	// Structural operations, in the order they are documented.
	Cast
	Dim
	Empty
	Extract
	FromElements
	Gather
	Generate
	Insert
	InsertSlice
	InParallel
	Pad
	ParallelInsertSlice
	Rank
	Reshape
	ExpandShape
	CollapseShape
	ExtractSlice
	Scatter
	Splat

	last
)

var goNames = [last]string{
	Invalid:             "Invalid",
	Constant:            "Constant",
	Convert:             "Convert",
	Yield:               "Yield",
	Cast:                "Cast",
	Dim:                 "Dim",
	Empty:               "Empty",
	Extract:             "Extract",
	FromElements:        "FromElements",
	Gather:              "Gather",
	Generate:            "Generate",
	Insert:              "Insert",
	InsertSlice:         "InsertSlice",
	InParallel:          "InParallel",
	Pad:                 "Pad",
	ParallelInsertSlice: "ParallelInsertSlice",
	Rank:                "Rank",
	Reshape:             "Reshape",
	ExpandShape:         "ExpandShape",
	CollapseShape:       "CollapseShape",
	ExtractSlice:        "ExtractSlice",
	Scatter:             "Scatter",
	Splat:               "Splat",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op >= last {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return goNames[op]
}

// TextName returns the snake_case operation name used in diagnostics,
// e.g. "extract_slice" for ExtractSlice.
func (op OpType) TextName() string {
	return utils.ToSnakeCase(op.String())
}
