package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// GenerateOp produces a tensor by evaluating a closure once per logical
// index tuple. The closure takes one scalar index parameter per result
// dimension and yields the element for that position.
type GenerateOp struct{ *Op }

// Generate builds a closure-filled tensor of the given shape. The body
// builder receives the closure and its index parameters and must return the
// element value to yield.
func (fn *Func) Generate(shape shapes.Shape, dynamicSizes []*Value,
	bodyFn func(body *Func, indices []*Value) (*Value, error)) (*Value, error) {
	if !shape.IsRanked() {
		return nil, errors.Errorf("generate requires a ranked result, got %s", shape)
	}
	op := GenerateOp{fn.addOp(optypes.Generate, shape, dynamicSizes...)}
	body := &Func{Name: "generate_body"}
	op.addRegion(body)
	indices := make([]*Value, shape.Rank())
	for i := range indices {
		indices[i] = body.Input("", shapes.Make(IndexDType))
	}
	element, err := bodyFn(body, indices)
	if err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	if err := body.yield(element); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	if err := op.verifyRegions(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// generateWithBody rebuilds a Generate around an existing closure body,
// moving the region over. Only valid when the previous owner is being
// retired by the caller.
func (fn *Func) generateWithBody(shape shapes.Shape, dynamicSizes []*Value, body *Func) (*Value, error) {
	op := GenerateOp{fn.addOp(optypes.Generate, shape, dynamicSizes...)}
	op.addRegion(body)
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	if err := op.verifyRegions(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// DynamicSizes returns the run-time extents, one per dynamic dimension.
func (op GenerateOp) DynamicSizes() []*Value { return op.Inputs }

// Body returns the closure filling the tensor.
func (op GenerateOp) Body() *Func { return op.Regions[0] }

// MixedSizes returns the per-dimension sizes as a mixed list.
func (op GenerateOp) MixedSizes() []Mixed {
	return mustJoinMixed(op.Result().Shape().Dimensions, op.Inputs)
}

func (op GenerateOp) verify() error {
	shape := op.Result().Shape()
	if !shape.IsRanked() {
		return errors.Errorf("generate requires a ranked result, got %s", shape)
	}
	if got, want := len(op.Inputs), shape.NumDynamicDims(); got != want {
		return errors.Errorf("generate of %s requires %d dynamic size operands, got %d",
			shape, want, got)
	}
	for _, size := range op.Inputs {
		if s := size.Shape(); !s.IsScalar() || s.DType != IndexDType {
			return errors.Errorf("generate dynamic size must be a scalar index, got %s", s)
		}
	}
	return nil
}

func (op GenerateOp) verifyRegions() error {
	shape := op.Result().Shape()
	body := op.Body()
	if got, want := len(body.Inputs), shape.Rank(); got != want {
		return errors.Errorf("generate body of %s requires %d index parameters, got %d",
			shape, want, got)
	}
	for _, input := range body.Inputs {
		if s := input.Shape(); !s.IsScalar() || s.DType != IndexDType {
			return errors.Errorf("generate body parameter must be a scalar index, got %s", s)
		}
	}
	yielded := body.yieldedValue()
	if yielded == nil {
		return errors.Errorf("generate body must end in a yield")
	}
	if s := yielded.Shape(); !s.IsScalar() || s.DType != shape.DType {
		return errors.Errorf("generate of %s must yield a scalar %s, got %s",
			shape, shape.DType, s)
	}
	return nil
}

func (op GenerateOp) reifyResultShapes() ([][]Mixed, error) {
	return [][]Mixed{op.MixedSizes()}, nil
}

// cloneOpInto copies one operation into fn, remapping its inputs through
// remap and registering its results there. Regions are cloned recursively.
func cloneOpInto(fn *Func, op *Op, remap map[*Value]*Value) *Op {
	mapped := func(v *Value) *Value {
		if m, ok := remap[v]; ok {
			return m
		}
		// Captured from an enclosing scope; keep as is.
		return v
	}
	inputs := make([]*Value, len(op.Inputs))
	for i, input := range op.Inputs {
		inputs[i] = mapped(input)
	}
	clone := &Op{fn: fn, Type: op.Type, Inputs: inputs}
	for _, result := range op.Outputs {
		v := fn.newValue(result.Shape())
		v.def = clone
		v.defIndex = len(clone.Outputs)
		clone.Outputs = append(clone.Outputs, v)
		remap[result] = v
	}
	if op.Attributes != nil {
		clone.Attributes = make(map[string]any, len(op.Attributes))
		for k, v := range op.Attributes {
			clone.Attributes[k] = v
		}
	}
	fn.Ops = append(fn.Ops, clone)
	for _, region := range op.Regions {
		body := &Func{Name: region.Name}
		clone.addRegion(body)
		for _, input := range region.Inputs {
			remap[input] = body.Input(input.name, input.Shape())
		}
		for _, inner := range region.Ops {
			if inner.dead {
				continue
			}
			cloneOpInto(body, inner, remap)
		}
	}
	return clone
}

// inlineClosure splices a copy of the closure body into fn, substituting
// the body's parameters with args, and returns the yielded value under the
// substitution.
func inlineClosure(fn *Func, body *Func, args []*Value) (*Value, error) {
	if len(args) != len(body.Inputs) {
		return nil, errors.Errorf("inlining a closure of %d parameters with %d arguments",
			len(body.Inputs), len(args))
	}
	yielded := body.yieldedValue()
	if yielded == nil {
		return nil, errors.Errorf("inlining an unterminated closure body")
	}
	remap := make(map[*Value]*Value)
	for i, input := range body.Inputs {
		remap[input] = args[i]
	}
	for _, op := range body.Ops {
		if op.dead || op.Type == optypes.Yield {
			continue
		}
		cloneOpInto(fn, op, remap)
	}
	if m, ok := remap[yielded]; ok {
		return m, nil
	}
	// Yielded value was captured from outside the body.
	return yielded, nil
}

// generateStaticShape promotes constant dynamic extents of a Generate to
// static dimensions, wrapping the tighter op in a widening cast back to the
// declared type. The closure body moves over unchanged.
func generateStaticShape(op *Op, rw *Rewriter) (bool, error) {
	generate := GenerateOp{op}
	sizes, changed := canonicalizeMixed(generate.MixedSizes())
	if !changed {
		return false, nil
	}
	statics, dynamics := SplitMixed(sizes)
	tight := generate.Result().Shape().Clone()
	tight.Dimensions = statics
	narrowed, err := op.fn.generateWithBody(tight, dynamics, generate.Body())
	if err != nil {
		return false, err
	}
	widened, err := op.fn.Cast(narrowed, generate.Result().Shape())
	if err != nil {
		return false, err
	}
	rw.Replace(op, widened)
	return true, nil
}

// extractFromGenerate inlines the closure of a side-effect-free Generate at
// an element extraction site, substituting the extraction indices for the
// closure parameters.
func extractFromGenerate(op *Op, rw *Rewriter) (bool, error) {
	extract := ExtractOp{op}
	def := extract.Source().DefiningOpOfType(optypes.Generate)
	if def == nil || !isPure(def) {
		return false, nil
	}
	element, err := inlineClosure(op.fn, GenerateOp{def}.Body(), extract.Indices())
	if err != nil {
		return false, err
	}
	rw.Replace(op, element)
	return true, nil
}

func generateCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "generate-static-shape", Root: optypes.Generate, Match: generateStaticShape})
	sink.Add(Pattern{Name: "extract-from-generate", Root: optypes.Extract, Match: extractFromGenerate})
}
