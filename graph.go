package tensorir

import (
	"fmt"
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// IndexDType is the dtype of index values: dimension numbers, offsets,
// sizes, strides and pad widths.
const IndexDType = dtypes.Int64

// Func holds a graph of operations under construction or being rewritten.
//
// A Func is also used as the closure body of region-carrying operations
// (Generate, Pad, InParallel); in that case Parent points to the enclosing
// Func and owner to the operation holding the region.
type Func struct {
	Name   string
	Parent *Func

	// owner is the region-carrying operation this Func is a body of, nil
	// for a root Func.
	owner *Op

	// Inputs are the arguments of the function (or closure).
	Inputs []*Value

	// Ops in construction order. Dead (replaced) operations stay in the
	// slice, marked, until the owner of the graph discards them.
	Ops []*Op

	nextID int
}

// New creates a new empty Func with the given name.
func New(name string) *Func {
	return &Func{Name: name}
}

// root returns the outermost Func of a closure tree.
func (fn *Func) root() *Func {
	r := fn
	for r.Parent != nil {
		r = r.Parent
	}
	return r
}

// newValue creates a new value owned by fn, uniquely numbered across the
// whole closure tree.
func (fn *Func) newValue(shape shapes.Shape) *Value {
	r := fn.root()
	v := &Value{
		id:    r.nextID,
		fn:    fn,
		shape: shape,
	}
	r.nextID++
	return v
}

// Input adds a function argument with the given name and shape.
func (fn *Func) Input(name string, shape shapes.Shape) *Value {
	v := fn.newValue(shape)
	v.name = name
	fn.Inputs = append(fn.Inputs, v)
	return v
}

// Value represents one SSA value of the graph: a function argument or an
// operation result.
type Value struct {
	id    int
	name  string
	fn    *Func
	shape shapes.Shape

	// def is the operation producing this value, nil for arguments.
	def *Op
	// defIndex is the result position within def.
	defIndex int
}

// Shape returns the shape of the value.
func (v *Value) Shape() shapes.Shape { return v.shape }

// DefiningOp returns the operation producing v, or nil for arguments.
func (v *Value) DefiningOp() *Op {
	if v.def == nil || v.def.dead {
		return nil
	}
	return v.def
}

// DefiningOpOfType returns the live operation of the given kind producing v,
// or nil. This is the "defining op of kind K" lookup the canonicalization
// rules are written against.
func (v *Value) DefiningOpOfType(t optypes.OpType) *Op {
	op := v.DefiningOp()
	if op == nil || op.Type != t {
		return nil
	}
	return op
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v.name != "" {
		return "%" + v.name
	}
	return "%" + strconv.Itoa(v.id)
}

// Op is one operation instance: an immutable node of the graph. Rewrites
// never mutate an operation's shapes in place; they construct a replacement
// and redirect the uses (see Rewriter.Replace). The only sanctioned in-place
// change is operand rewiring by fold rules (see FoldCastOperands).
type Op struct {
	fn   *Func
	Type optypes.OpType

	Inputs  []*Value
	Outputs []*Value

	// Attributes hold the operation's compile-time parameters, e.g. the
	// static halves of its mixed index lists. Keys are the attr* constants.
	Attributes map[string]any

	// Regions are the closure bodies of Generate, Pad and InParallel.
	Regions []*Func

	dead bool
}

// Attribute keys.
const (
	attrLiteral       = "literal"        // *Literal (Constant)
	attrStaticOffsets = "static_offsets" // []int64
	attrStaticSizes   = "static_sizes"   // []int64
	attrStaticStrides = "static_strides" // []int64
	attrStaticLow     = "static_low"     // []int64
	attrStaticHigh    = "static_high"    // []int64
	attrNofold        = "nofold"         // bool
	attrGatherDims    = "gather_dims"    // []int64
	attrScatterDims   = "scatter_dims"   // []int64
	attrUnique        = "unique"         // bool
	attrReassociation = "reassociation"  // [][]int
)

// addOp appends a new operation with one result of the given shape.
func (fn *Func) addOp(opType optypes.OpType, resultShape shapes.Shape, inputs ...*Value) *Op {
	op := &Op{
		fn:     fn,
		Type:   opType,
		Inputs: inputs,
	}
	result := fn.newValue(resultShape)
	result.def = op
	op.Outputs = []*Value{result}
	fn.Ops = append(fn.Ops, op)
	return op
}

// addOpNoResult appends a new operation without results (Yield,
// ParallelInsertSlice).
func (fn *Func) addOpNoResult(opType optypes.OpType, inputs ...*Value) *Op {
	op := &Op{
		fn:     fn,
		Type:   opType,
		Inputs: inputs,
	}
	fn.Ops = append(fn.Ops, op)
	return op
}

// setAttr records a compile-time parameter on the op.
func (op *Op) setAttr(key string, value any) *Op {
	if op.Attributes == nil {
		op.Attributes = make(map[string]any)
	}
	op.Attributes[key] = value
	return op
}

func (op *Op) intsAttr(key string) []int64 {
	if v, ok := op.Attributes[key]; ok {
		return v.([]int64)
	}
	return nil
}

func (op *Op) boolAttr(key string) bool {
	if v, ok := op.Attributes[key]; ok {
		return v.(bool)
	}
	return false
}

// Result returns the single output of the operation.
// It panics if the operation does not have exactly one result.
func (op *Op) Result() *Value {
	if len(op.Outputs) != 1 {
		panic(fmt.Sprintf("op %s has %d results, expected 1", op.Type, len(op.Outputs)))
	}
	return op.Outputs[0]
}

// IsDead reports whether the operation was replaced by a rewrite.
func (op *Op) IsDead() bool { return op.dead }

// Func returns the function (or closure body) holding the operation.
func (op *Op) Func() *Func { return op.fn }

// addRegion attaches a closure body to the operation.
func (op *Op) addRegion(body *Func) {
	body.Parent = op.fn
	body.owner = op
	op.Regions = append(op.Regions, body)
}

// walkOps visits every live operation of fn and its nested closure bodies.
// The visit function returns false to stop the walk.
func (fn *Func) walkOps(visit func(*Op) bool) bool {
	for _, op := range fn.Ops {
		if op.dead {
			continue
		}
		if !visit(op) {
			return false
		}
		for _, region := range op.Regions {
			if !region.walkOps(visit) {
				return false
			}
		}
	}
	return true
}

// Verify re-checks every live operation of the closure tree, collecting
// all violations rather than stopping at the first. Useful after rewrites
// that rewired operands in place.
func (fn *Func) Verify() error {
	var errs []error
	fn.root().walkOps(func(op *Op) bool {
		if err := op.Verify(); err != nil {
			errs = append(errs, errors.WithMessagef(err, "verifying %s", op.Type.TextName()))
		}
		if err := op.VerifyRegions(); err != nil {
			errs = append(errs, errors.WithMessagef(err, "verifying %s regions", op.Type.TextName()))
		}
		return true
	})
	return multierr.Combine(errs...)
}

// ReplaceAllUses redirects every use of old to new, across the whole
// closure tree.
func (fn *Func) ReplaceAllUses(old, new *Value) {
	fn.root().walkOps(func(op *Op) bool {
		for i, input := range op.Inputs {
			if input == old {
				op.Inputs[i] = new
			}
		}
		return true
	})
}

// usesOf returns the live operations using v as an input.
func (fn *Func) usesOf(v *Value) []*Op {
	var uses []*Op
	fn.root().walkOps(func(op *Op) bool {
		for _, input := range op.Inputs {
			if input == v {
				uses = append(uses, op)
				break
			}
		}
		return true
	})
	return uses
}

// yieldedValue returns the value produced by the closure's terminating
// Yield, or nil if the body is not terminated.
func (fn *Func) yieldedValue() *Value {
	if len(fn.Ops) == 0 {
		return nil
	}
	last := fn.Ops[len(fn.Ops)-1]
	if last.Type != optypes.Yield || len(last.Inputs) != 1 {
		return nil
	}
	return last.Inputs[0]
}

// yield terminates a closure body with the given value.
func (fn *Func) yield(v *Value) error {
	if fn.owner == nil {
		return errors.Errorf("yield outside of a closure body")
	}
	if fn.yieldedValue() != nil {
		return errors.Errorf("closure body of %s already has a yield", fn.owner.Type)
	}
	fn.addOpNoResult(optypes.Yield, v)
	return nil
}

// isPure reports whether the operation has no observable side effect beyond
// producing its results. Every operation kind of this dialect is pure; a
// region-carrying operation is pure iff its bodies are.
func isPure(op *Op) bool {
	if op.Type == optypes.Invalid {
		return false
	}
	for _, region := range op.Regions {
		pure := region.walkOps(func(inner *Op) bool {
			return isPure(inner)
		})
		if !pure {
			return false
		}
	}
	return true
}
