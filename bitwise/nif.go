package bitwise

import (
	"context"
	"fmt"

	"github.com/Swind/go-timeslice/core"
)

// Function names registered by Load.
const (
	FnExor      = "exor"
	FnExorBad   = "exor_bad"
	FnExorDirty = "exor_dirty"
	FnExorYield = "exor_yield"

	fnStep = "exor2"
)

// Modes maps the short mode names used by the CLI to function names.
var Modes = map[string]string{
	"plain": FnExor,
	"bad":   FnExorBad,
	"dirty": FnExorDirty,
	"yield": FnExorYield,
}

// Binding adapts an Engine to host terms.
type Binding struct {
	engine *Engine
}

// Load registers the exor family in m, backed by engine.
func Load(m *core.Module, engine *Engine) (*Binding, error) {
	if engine == nil {
		engine = NewEngine()
	}
	b := &Binding{engine: engine}

	natives := []struct {
		name  string
		fn    core.NativeFunc
		flags core.NativeFlags
	}{
		{FnExor, b.exor, 0},
		{FnExorBad, b.exor, 0},
		{FnExorYield, b.exorYield, 0},
		{FnExorDirty, b.exor, core.FlagDirtyCPU},
	}
	for _, n := range natives {
		if err := m.Register(n.name, 2, n.fn, n.flags); err != nil {
			return nil, fmt.Errorf("load %s: %w", m.Name(), err)
		}
	}
	return b, nil
}

// exor transforms the whole binary in one go.
func (b *Binding) exor(env *core.Env, args []core.Term) (core.Term, error) {
	src, param, err := sourceArgs(env, args)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return args[0], nil
	}
	out, yields := b.engine.Apply(src, param)
	return core.Tuple{out, yields}, nil
}

// exorYield allocates the output and schedules the first episode.
func (b *Binding) exorYield(env *core.Env, args []core.Term) (core.Term, error) {
	src, param, err := sourceArgs(env, args)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return args[0], nil
	}

	st, _ := b.engine.Start(src, param)
	id := env.Resources().Put(st.Output)
	return env.Schedule(fnStep, 0, b.exor2, st.Continuation(id).Args(args[0], args[1])...)
}

// exor2 runs one episode and either finishes or reschedules itself.
func (b *Binding) exor2(env *core.Env, args []core.Term) (core.Term, error) {
	c, err := continuationArgs(env, args)
	if err != nil {
		return nil, err
	}
	output, ok := env.Resources().Take(c.Output)
	if !ok {
		return nil, env.BadArg("resource %s is not live", c.Output)
	}
	st, err := Resume(c, output)
	if err != nil {
		return nil, env.BadArg("%v", err)
	}

	if b.engine.Step(st, env.Quantum()) {
		return core.Tuple{st.Output, st.Yields}, nil
	}

	id := env.Resources().Put(st.Output)
	return env.Schedule(fnStep, 0, b.exor2, st.Continuation(id).Args(args[0], args[1])...)
}

// Args lays c out as the six exor2 arguments. The original source and
// param terms are passed through unchanged.
func (c Continuation) Args(source, param core.Term) []core.Term {
	return []core.Term{source, param, c.SliceBytes, c.Cursor, c.Output, c.Yields}
}

func sourceArgs(env *core.Env, args []core.Term) ([]byte, byte, error) {
	if len(args) != 2 {
		return nil, 0, env.BadArg("arity %d, want 2", len(args))
	}
	src, ok := core.GetBinary(args[0])
	if !ok {
		return nil, 0, env.BadArg("source is not a binary")
	}
	param, ok := core.GetUint(args[1])
	if !ok || param > 255 {
		return nil, 0, env.BadArg("byte is not an integer in 0..255")
	}
	return src, byte(param), nil
}

func continuationArgs(env *core.Env, args []core.Term) (Continuation, error) {
	if len(args) != 6 {
		return Continuation{}, env.BadArg("arity %d, want 6", len(args))
	}
	src, param, err := sourceArgs(env, args[:2])
	if err != nil {
		return Continuation{}, err
	}
	c := Continuation{Source: src, Param: param}

	var ok bool
	if c.SliceBytes, ok = core.GetUint64(args[2]); !ok {
		return Continuation{}, env.BadArg("slice budget is not an unsigned integer")
	}
	if c.Cursor, ok = core.GetUint64(args[3]); !ok {
		return Continuation{}, env.BadArg("cursor is not an unsigned integer")
	}
	if c.Output, ok = core.GetResource(args[4]); !ok {
		return Continuation{}, env.BadArg("output is not a resource")
	}
	if c.Yields, ok = core.GetInt(args[5]); !ok {
		return Continuation{}, env.BadArg("yield count is not an integer")
	}
	return c, nil
}

// =============================================================================
// Typed calls
// =============================================================================

// Result is the decoded outcome of an exor call.
type Result struct {
	Output []byte
	Yields int
}

// Call runs function (one of the Fn* names) through m and decodes the result.
// For an empty source the output is the source itself and Yields is 0.
func Call(ctx context.Context, m *core.Module, function string, src []byte, param byte) (Result, error) {
	term, err := m.Invoke(ctx, function, src, uint(param))
	if err != nil {
		return Result{}, err
	}
	return DecodeResult(term)
}

// DecodeResult reads the result term of an exor function.
func DecodeResult(term core.Term) (Result, error) {
	switch v := term.(type) {
	case []byte:
		return Result{Output: v}, nil
	case core.Tuple:
		if len(v) != 2 {
			return Result{}, fmt.Errorf("result tuple has %d elements, want 2", len(v))
		}
		out, ok := core.GetBinary(v[0])
		if !ok {
			return Result{}, fmt.Errorf("result output is %T, want binary", v[0])
		}
		yields, ok := core.GetInt(v[1])
		if !ok {
			return Result{}, fmt.Errorf("result yields is %T, want integer", v[1])
		}
		return Result{Output: out, Yields: yields}, nil
	default:
		return Result{}, fmt.Errorf("unexpected result term %T", term)
	}
}
