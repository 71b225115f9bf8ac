package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantfolio/internal/domain"
)

func execute(t *testing.T, timeout time.Duration, source string) (Outcome, *Context) {
	t.Helper()
	sctx := newTestContext(t, 100)
	out := NewExecutor(timeout).Execute(context.Background(), source, sctx)
	return out, sctx
}

func TestStrategyFunctionResult(t *testing.T) {
	out, _ := execute(t, time.Second, `
strategy := func() {
	ctx.log("deciding")
	return {"AAA": 70, "BBB": 30}
}
`)
	require.Equal(t, StatusCompleted, out.Status)
	require.True(t, out.HasWeights)
	assert.InDelta(t, 70, out.Weights["AAA"], 1e-9)
	assert.InDelta(t, 30, out.Weights["BBB"], 1e-9)
	assert.Contains(t, out.Signals, "deciding")
}

func TestResultVariableFallback(t *testing.T) {
	out, _ := execute(t, time.Second, `result := {"AAA": 1, "BBB": 1}`)
	require.Equal(t, StatusCompleted, out.Status)
	require.True(t, out.HasWeights)
	assert.InDelta(t, 50, out.Weights["AAA"], 1e-9)
	assert.InDelta(t, 50, out.Weights["BBB"], 1e-9)
}

func TestContextWeightsFallback(t *testing.T) {
	out, _ := execute(t, time.Second, `ctx.set_target_weights({"BBB": 100})`)
	require.Equal(t, StatusCompleted, out.Status)
	require.True(t, out.HasWeights)
	assert.InDelta(t, 100, out.Weights["BBB"], 1e-9)
}

func TestNoResultIsCompletedWithoutWeights(t *testing.T) {
	out, _ := execute(t, time.Second, `x := 1 + 1`)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.False(t, out.HasWeights)
}

func TestCompileFailure(t *testing.T) {
	out, _ := execute(t, time.Second, `strategy := func( {`)
	assert.Equal(t, StatusCompileFailed, out.Status)
	assert.Error(t, out.Err)
	assert.False(t, out.HasWeights)
}

func TestRuntimeErrorIsContained(t *testing.T) {
	out, _ := execute(t, time.Second, `
x := [1, 2, 3]
y := x[10] + 1
`)
	assert.Equal(t, StatusRuntimeError, out.Status)
	assert.Error(t, out.Err)
	assert.False(t, out.HasWeights)
}

func TestBusyLoopTimesOut(t *testing.T) {
	start := time.Now()
	out, _ := execute(t, 200*time.Millisecond, `
i := 0
for {
	i++
}
`)
	assert.Equal(t, StatusTimeout, out.Status)
	assert.False(t, out.HasWeights)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTimeoutYieldsNoPartialResult(t *testing.T) {
	// The script sets weights before spinning; a timed-out invocation must
	// still be treated as "no result".
	out, _ := execute(t, 200*time.Millisecond, `
ctx.set_target_weights({"AAA": 100})
for {}
`)
	assert.Equal(t, StatusTimeout, out.Status)
	assert.False(t, out.HasWeights)
	assert.Nil(t, out.Weights)
}

func TestDenylistedAccessIsSafetyViolation(t *testing.T) {
	out, sctx := execute(t, time.Second, `x := ctx.__class__`)
	assert.Equal(t, StatusSafetyViolation, out.Status)
	assert.Error(t, out.Err)
	assert.Equal(t, "__class__", sctx.Violation())
}

func TestUnderscorePrefixedAccessDenied(t *testing.T) {
	out, _ := execute(t, time.Second, `x := ctx._prices`)
	assert.Equal(t, StatusSafetyViolation, out.Status)
}

func TestUnknownCapabilityIsUndefined(t *testing.T) {
	out, _ := execute(t, time.Second, `
if is_undefined(ctx.fetch_url) {
	ctx.log("no such capability")
}
`)
	require.Equal(t, StatusCompleted, out.Status)
	assert.Contains(t, out.Signals, "no such capability")
}

func TestIndicatorsReachableFromScript(t *testing.T) {
	out, _ := execute(t, time.Second, `
strategy := func() {
	weights := {}
	for t in ctx.tickers() {
		sma := ctx.sma(t, 10)
		rsi := ctx.rsi(t, 14)
		if len(sma) > 0 && len(rsi) > 0 {
			weights[t] = 1.0
		}
	}
	return weights
}
`)
	require.Equal(t, StatusCompleted, out.Status, "%v", out.Err)
	require.True(t, out.HasWeights)
	assert.InDelta(t, 100, out.Weights.Sum(), 1e-9)
}

func TestValidateCompileOnly(t *testing.T) {
	e := NewExecutor(time.Second)

	v := e.Validate(`strategy := func() { return {"AAA": 100} }`)
	assert.True(t, v.OK)
	assert.Empty(t, v.Lint)

	v = e.Validate(`strategy := func( {`)
	assert.False(t, v.OK)
	assert.NotEmpty(t, v.CompileErr)

	// Denylisted literal names are flagged but do not fail validation.
	v = e.Validate(`x := ctx.__class__`)
	assert.True(t, v.OK)
	assert.NotEmpty(t, v.Lint)
}

func TestTemplatesCompileAndRun(t *testing.T) {
	e := NewExecutor(2 * time.Second)
	for _, tpl := range Templates() {
		t.Run(tpl.Name, func(t *testing.T) {
			v := e.Validate(tpl.Code)
			require.True(t, v.OK, v.CompileErr)

			sctx := newTestContext(t, 100)
			out := e.Execute(context.Background(), tpl.Code, sctx)
			require.Equal(t, StatusCompleted, out.Status, "%v", out.Err)
			require.True(t, out.HasWeights)
			assert.InDelta(t, 100, out.Weights.Sum(), 1e-9)
		})
	}
}

func TestDefinesStrategyFunc(t *testing.T) {
	assert.True(t, definesStrategyFunc(`strategy := func() { return {} }`))
	assert.False(t, definesStrategyFunc(`result := {"AAA": 100}`))
	assert.False(t, definesStrategyFunc(`strategy := 42`))
}

func TestRunnerWeightFuncKeepsEngineContract(t *testing.T) {
	r := NewRunner(NewExecutor(time.Second), 60)

	ok := r.WeightFunc(`strategy := func() { return {"AAA": 100} }`, []string{"AAA", "BBB"})
	w, _, err := ok(context.Background(), day(2024, 4, 1), domain.Weights{"AAA": 50, "BBB": 50}, testPrices(120))
	require.NoError(t, err)
	assert.InDelta(t, 100, w["AAA"], 1e-9)

	bad := r.WeightFunc(`for {}`, []string{"AAA"})
	start := time.Now()
	_, _, err = bad(context.Background(), day(2024, 4, 1), nil, testPrices(120))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerCheck(t *testing.T) {
	r := NewRunner(NewExecutor(time.Second), 60)
	rec := domain.StrategyRecord{
		Name: "flip",
		Code: `strategy := func() { return {"BBB": 100} }`,
	}
	res := r.Check(context.Background(), rec, []string{"AAA", "BBB"}, testPrices(120), domain.Weights{"AAA": 100}, day(2024, 4, 1))
	assert.Equal(t, "flip", res.StrategyName)
	require.True(t, res.HasTarget)
	assert.InDelta(t, 100, res.TargetWeights["BBB"], 1e-9)
	assert.InDelta(t, 100, res.CurrentWeights["AAA"], 1e-9)
}
