package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/parser"
	"github.com/d5/tengo/v2/token"

	"quantfolio/internal/domain"
)

// DefaultTimeout bounds one script invocation's wall-clock time.
const DefaultTimeout = 10 * time.Second

// defaultMaxAllocs caps object allocations inside the VM so a runaway
// script exhausts its budget instead of host memory.
const defaultMaxAllocs = 10_000_000

// resultVar receives the entry routine's return value when the script
// defines one.
const resultVar = "__strategy_result__"

// Status is the terminal state of one sandbox invocation.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusCompileFailed   Status = "compile_failed"
	StatusTimeout         Status = "timeout"
	StatusRuntimeError    Status = "runtime_error"
	StatusSafetyViolation Status = "safety_violation"
)

// Outcome is everything the caller learns from one invocation. A non-
// completed status never carries weights: a timed-out or failed script
// yields no result, not a partial one.
type Outcome struct {
	Status     Status
	Weights    domain.Weights
	HasWeights bool
	Signals    []string
	Elapsed    time.Duration
	Err        error
}

// Failed reports whether the invocation ended in any non-completed state.
func (o Outcome) Failed() bool { return o.Status != StatusCompleted }

// Executor compiles and runs strategy scripts. Scripts are written in the
// embedded script language with imports disabled: the only capabilities in
// scope are the language's own literals and operators plus the injected ctx
// object. The zero value is not usable; use NewExecutor.
type Executor struct {
	timeout   time.Duration
	maxAllocs int64
}

// NewExecutor creates an executor with the given wall-clock budget per
// invocation. A non-positive timeout selects the default.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout, maxAllocs: defaultMaxAllocs}
}

// Execute runs source against the given invocation context and returns the
// outcome. The script's allocation decision is taken from, in order: the
// return value of a top-level strategy() function, a top-level result
// variable, or weights the script set through ctx directly. Errors raised
// inside the script never propagate; they are folded into the outcome.
func (e *Executor) Execute(ctx context.Context, source string, sctx *Context) Outcome {
	start := time.Now()

	src := source
	if definesStrategyFunc(source) {
		src = source + "\n" + resultVar + " := strategy()\n"
	}

	script := tengo.NewScript([]byte(src))
	script.SetMaxAllocs(e.maxAllocs)
	if err := script.Add("ctx", wrapContext(sctx)); err != nil {
		return Outcome{Status: StatusRuntimeError, Err: err, Elapsed: time.Since(start)}
	}

	compiled, err := script.Compile()
	if err != nil {
		return Outcome{Status: StatusCompileFailed, Err: err, Elapsed: time.Since(start)}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	runErr := compiled.RunContext(runCtx)
	elapsed := time.Since(start)

	out := Outcome{Signals: sctx.Signals(), Elapsed: elapsed}
	if runErr != nil {
		switch {
		case sctx.Violation() != "":
			out.Status = StatusSafetyViolation
			out.Err = fmt.Errorf("denied capability %q: %w", sctx.Violation(), runErr)
		case errors.Is(runErr, context.DeadlineExceeded):
			out.Status = StatusTimeout
			out.Err = fmt.Errorf("execution exceeded %s budget", e.timeout)
		default:
			out.Status = StatusRuntimeError
			out.Err = runErr
		}
		return out
	}

	// Result extraction fallback chain.
	if w, ok := weightsFromObject(compiled.Get(resultVar).Object()); ok && len(w) > 0 {
		sctx.SetTargetWeights(w, true)
	} else if w, ok := weightsFromObject(compiled.Get("result").Object()); ok && len(w) > 0 {
		sctx.SetTargetWeights(w, true)
	}

	out.Status = StatusCompleted
	out.Signals = sctx.Signals()
	out.Weights, out.HasWeights = sctx.TargetWeights()
	return out
}

// Validation is the outcome of a pre-flight source check. Lint findings do
// not make the source invalid; they flag denylisted names for the author.
type Validation struct {
	OK         bool
	CompileErr string
	Lint       []string
}

// Validate compiles the source without running it and lints for denylisted
// capability names appearing literally in the script.
func (e *Executor) Validate(source string) Validation {
	v := Validation{}

	script := tengo.NewScript([]byte(source))
	if err := script.Add("ctx", wrapContext(NewContext(time.Time{}, nil, nil, nil, 0))); err != nil {
		v.CompileErr = err.Error()
		return v
	}
	if _, err := script.Compile(); err != nil {
		v.CompileErr = err.Error()
		return v
	}
	v.OK = true

	for name := range deniedNames {
		if strings.Contains(source, name) {
			v.Lint = append(v.Lint, fmt.Sprintf("source references denied name %q", name))
		}
	}
	return v
}

// definesStrategyFunc reports whether the source declares a top-level
// `strategy := func(...)`, the conventional entry routine.
func definesStrategyFunc(source string) bool {
	fileSet := parser.NewFileSet()
	srcFile := fileSet.AddFile("(strategy)", -1, len(source))
	p := parser.NewParser(srcFile, []byte(source), nil)
	file, err := p.ParseFile()
	if err != nil {
		return false
	}
	for _, stmt := range file.Stmts {
		assign, ok := stmt.(*parser.AssignStmt)
		if !ok || assign.Token != token.Define || len(assign.LHS) != 1 || len(assign.RHS) != 1 {
			continue
		}
		ident, ok := assign.LHS[0].(*parser.Ident)
		if !ok || ident.Name != "strategy" {
			continue
		}
		if _, ok := assign.RHS[0].(*parser.FuncLit); ok {
			return true
		}
	}
	return false
}
