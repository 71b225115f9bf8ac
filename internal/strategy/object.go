package strategy

import (
	"fmt"
	"strings"

	"github.com/d5/tengo/v2"

	"quantfolio/internal/domain"
	"quantfolio/internal/indicators"
)

// deniedNames are capability names a script may never reach, beyond the
// blanket ban on underscore-prefixed access. They cover the host-reflection
// surface of the language this sandbox replaced.
var deniedNames = map[string]struct{}{
	"__class__":      {},
	"__globals__":    {},
	"__subclasses__": {},
	"__import__":     {},
	"__builtins__":   {},
	"__code__":       {},
	"__dict__":       {},
	"eval":           {},
	"exec":           {},
	"open":           {},
	"compile":        {},
	"globals":        {},
	"locals":         {},
	"getattr":        {},
	"setattr":        {},
}

// denied reports whether a capability name is off-limits to scripts.
func denied(name string) bool {
	if strings.HasPrefix(name, "_") {
		return true
	}
	_, ok := deniedNames[name]
	return ok
}

// ctxObject adapts a Context into the single script-visible capability
// object. Attribute access goes through IndexGet, which enforces the
// denylist; a denied access records the violation and aborts the script.
type ctxObject struct {
	tengo.ObjectImpl
	ctx     *Context
	methods map[string]*tengo.UserFunction
}

var _ tengo.Object = (*ctxObject)(nil)

func wrapContext(c *Context) *ctxObject {
	o := &ctxObject{ctx: c}
	o.methods = map[string]*tengo.UserFunction{
		"tickers":             {Name: "tickers", Value: o.tickersFn},
		"current_date":        {Name: "current_date", Value: o.currentDateFn},
		"prices":              {Name: "prices", Value: o.pricesFn},
		"returns":             {Name: "returns", Value: o.returnsFn},
		"sma":                 {Name: "sma", Value: o.smaFn},
		"ema":                 {Name: "ema", Value: o.emaFn},
		"rsi":                 {Name: "rsi", Value: o.rsiFn},
		"macd":                {Name: "macd", Value: o.macdFn},
		"bollinger":           {Name: "bollinger", Value: o.bollingerFn},
		"atr":                 {Name: "atr", Value: o.atrFn},
		"volatility":          {Name: "volatility", Value: o.volatilityFn},
		"momentum":            {Name: "momentum", Value: o.momentumFn},
		"drawdown":            {Name: "drawdown", Value: o.drawdownFn},
		"vix":                 {Name: "vix", Value: o.vixFn},
		"crossover":           {Name: "crossover", Value: o.crossoverFn},
		"crossunder":          {Name: "crossunder", Value: o.crossunderFn},
		"get_current_weights": {Name: "get_current_weights", Value: o.getCurrentWeightsFn},
		"set_target_weights":  {Name: "set_target_weights", Value: o.setTargetWeightsFn},
		"log":                 {Name: "log", Value: o.logFn},
	}
	return o
}

func (o *ctxObject) TypeName() string { return "strategy-context" }
func (o *ctxObject) String() string   { return "<strategy-context>" }

// IndexGet resolves ctx.<name> inside a script.
func (o *ctxObject) IndexGet(index tengo.Object) (tengo.Object, error) {
	name, ok := tengo.ToString(index)
	if !ok {
		return nil, tengo.ErrInvalidIndexType
	}
	if denied(name) {
		o.ctx.violation = name
		return nil, fmt.Errorf("access to %q is not allowed", name)
	}
	if fn, ok := o.methods[name]; ok {
		return fn, nil
	}
	return tengo.UndefinedValue, nil
}

// ---------------------------------------------------------------------------
// Script-callable methods
// ---------------------------------------------------------------------------

func (o *ctxObject) tickersFn(args ...tengo.Object) (tengo.Object, error) {
	if len(args) != 0 {
		return nil, tengo.ErrWrongNumArguments
	}
	out := make([]tengo.Object, len(o.ctx.tickers))
	for i, t := range o.ctx.tickers {
		out[i] = &tengo.String{Value: t}
	}
	return &tengo.Array{Value: out}, nil
}

func (o *ctxObject) currentDateFn(args ...tengo.Object) (tengo.Object, error) {
	if len(args) != 0 {
		return nil, tengo.ErrWrongNumArguments
	}
	return &tengo.String{Value: o.ctx.date.Format("2006-01-02")}, nil
}

func (o *ctxObject) pricesFn(args ...tengo.Object) (tengo.Object, error) {
	ticker, err := argString(args, 0, "ticker")
	if err != nil {
		return nil, err
	}
	closes := o.ctx.Closes(ticker)
	if n, ok, err := optInt(args, 1, "n"); err != nil {
		return nil, err
	} else if ok && n > 0 && n < len(closes) {
		closes = closes[len(closes)-n:]
	}
	return floatArray(closes), nil
}

func (o *ctxObject) returnsFn(args ...tengo.Object) (tengo.Object, error) {
	ticker, err := argString(args, 0, "ticker")
	if err != nil {
		return nil, err
	}
	return floatArray(o.ctx.Returns(ticker)), nil
}

func (o *ctxObject) smaFn(args ...tengo.Object) (tengo.Object, error) {
	closes, period, err := o.seriesAndPeriod(args, 20)
	if err != nil {
		return nil, err
	}
	return floatArray(indicators.SMA(closes, period)), nil
}

func (o *ctxObject) emaFn(args ...tengo.Object) (tengo.Object, error) {
	closes, period, err := o.seriesAndPeriod(args, 20)
	if err != nil {
		return nil, err
	}
	return floatArray(indicators.EMA(closes, period)), nil
}

func (o *ctxObject) rsiFn(args ...tengo.Object) (tengo.Object, error) {
	closes, period, err := o.seriesAndPeriod(args, 14)
	if err != nil {
		return nil, err
	}
	return floatArray(indicators.RSI(closes, period)), nil
}

func (o *ctxObject) macdFn(args ...tengo.Object) (tengo.Object, error) {
	ticker, err := argString(args, 0, "ticker")
	if err != nil {
		return nil, err
	}
	fast, _, err := optIntDefault(args, 1, "fast", 12)
	if err != nil {
		return nil, err
	}
	slow, _, err := optIntDefault(args, 2, "slow", 26)
	if err != nil {
		return nil, err
	}
	signal, _, err := optIntDefault(args, 3, "signal", 9)
	if err != nil {
		return nil, err
	}
	macd, sig, hist := indicators.MACD(o.ctx.Closes(ticker), fast, slow, signal)
	return &tengo.Map{Value: map[string]tengo.Object{
		"macd":      floatArray(macd),
		"signal":    floatArray(sig),
		"histogram": floatArray(hist),
	}}, nil
}

func (o *ctxObject) bollingerFn(args ...tengo.Object) (tengo.Object, error) {
	ticker, err := argString(args, 0, "ticker")
	if err != nil {
		return nil, err
	}
	period, _, err := optIntDefault(args, 1, "period", 20)
	if err != nil {
		return nil, err
	}
	std := 2.0
	if len(args) > 2 {
		v, ok := tengo.ToFloat64(args[2])
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: "std_dev", Expected: "float", Found: args[2].TypeName()}
		}
		std = v
	}
	upper, middle, lower := indicators.Bollinger(o.ctx.Closes(ticker), period, std)
	return &tengo.Map{Value: map[string]tengo.Object{
		"upper":  floatArray(upper),
		"middle": floatArray(middle),
		"lower":  floatArray(lower),
	}}, nil
}

func (o *ctxObject) atrFn(args ...tengo.Object) (tengo.Object, error) {
	closes, period, err := o.seriesAndPeriod(args, 14)
	if err != nil {
		return nil, err
	}
	return floatArray(indicators.ATRFromClose(closes, period)), nil
}

func (o *ctxObject) volatilityFn(args ...tengo.Object) (tengo.Object, error) {
	closes, period, err := o.seriesAndPeriod(args, 21)
	if err != nil {
		return nil, err
	}
	return floatArray(indicators.Volatility(closes, period, true)), nil
}

func (o *ctxObject) momentumFn(args ...tengo.Object) (tengo.Object, error) {
	closes, period, err := o.seriesAndPeriod(args, 10)
	if err != nil {
		return nil, err
	}
	return floatArray(indicators.Momentum(closes, period)), nil
}

func (o *ctxObject) drawdownFn(args ...tengo.Object) (tengo.Object, error) {
	ticker, err := argString(args, 0, "ticker")
	if err != nil {
		return nil, err
	}
	peak, dd := indicators.Drawdown(o.ctx.Closes(ticker))
	return &tengo.Map{Value: map[string]tengo.Object{
		"peak":     floatArray(peak),
		"drawdown": floatArray(dd),
	}}, nil
}

func (o *ctxObject) vixFn(args ...tengo.Object) (tengo.Object, error) {
	if len(args) != 0 {
		return nil, tengo.ErrWrongNumArguments
	}
	return &tengo.Float{Value: o.ctx.VIX()}, nil
}

func (o *ctxObject) crossoverFn(args ...tengo.Object) (tengo.Object, error) {
	a, b, err := twoSeries(args)
	if err != nil {
		return nil, err
	}
	return boolValue(latest(indicators.Crossover(a, b))), nil
}

func (o *ctxObject) crossunderFn(args ...tengo.Object) (tengo.Object, error) {
	a, b, err := twoSeries(args)
	if err != nil {
		return nil, err
	}
	return boolValue(latest(indicators.Crossunder(a, b))), nil
}

func (o *ctxObject) getCurrentWeightsFn(args ...tengo.Object) (tengo.Object, error) {
	if len(args) != 0 {
		return nil, tengo.ErrWrongNumArguments
	}
	out := make(map[string]tengo.Object, len(o.ctx.current))
	for t, w := range o.ctx.current {
		out[t] = &tengo.Float{Value: w}
	}
	return &tengo.Map{Value: out}, nil
}

func (o *ctxObject) setTargetWeightsFn(args ...tengo.Object) (tengo.Object, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, tengo.ErrWrongNumArguments
	}
	weights, ok := weightsFromObject(args[0])
	if !ok {
		return nil, tengo.ErrInvalidArgumentType{Name: "weights", Expected: "map", Found: args[0].TypeName()}
	}
	normalize := true
	if len(args) == 2 {
		normalize = !args[1].IsFalsy()
	}
	o.ctx.SetTargetWeights(weights, normalize)
	return tengo.UndefinedValue, nil
}

func (o *ctxObject) logFn(args ...tengo.Object) (tengo.Object, error) {
	if len(args) != 1 {
		return nil, tengo.ErrWrongNumArguments
	}
	msg, _ := tengo.ToString(args[0])
	o.ctx.Log(msg)
	return tengo.UndefinedValue, nil
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

// seriesAndPeriod handles the common (ticker, optional period) signature.
func (o *ctxObject) seriesAndPeriod(args []tengo.Object, defaultPeriod int) ([]float64, int, error) {
	ticker, err := argString(args, 0, "ticker")
	if err != nil {
		return nil, 0, err
	}
	period, _, err := optIntDefault(args, 1, "period", defaultPeriod)
	if err != nil {
		return nil, 0, err
	}
	return o.ctx.Closes(ticker), period, nil
}

func argString(args []tengo.Object, i int, name string) (string, error) {
	if len(args) <= i {
		return "", tengo.ErrWrongNumArguments
	}
	s, ok := tengo.ToString(args[i])
	if !ok {
		return "", tengo.ErrInvalidArgumentType{Name: name, Expected: "string", Found: args[i].TypeName()}
	}
	return s, nil
}

func optInt(args []tengo.Object, i int, name string) (int, bool, error) {
	if len(args) <= i {
		return 0, false, nil
	}
	n, ok := tengo.ToInt(args[i])
	if !ok {
		return 0, false, tengo.ErrInvalidArgumentType{Name: name, Expected: "int", Found: args[i].TypeName()}
	}
	return n, true, nil
}

func optIntDefault(args []tengo.Object, i int, name string, def int) (int, bool, error) {
	n, ok, err := optInt(args, i, name)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return def, false, nil
	}
	return n, true, nil
}

func twoSeries(args []tengo.Object) ([]float64, []float64, error) {
	if len(args) != 2 {
		return nil, nil, tengo.ErrWrongNumArguments
	}
	a, ok := floatsFromObject(args[0])
	if !ok {
		return nil, nil, tengo.ErrInvalidArgumentType{Name: "a", Expected: "array of numbers", Found: args[0].TypeName()}
	}
	b, ok := floatsFromObject(args[1])
	if !ok {
		return nil, nil, tengo.ErrInvalidArgumentType{Name: "b", Expected: "array of numbers", Found: args[1].TypeName()}
	}
	return a, b, nil
}

func floatArray(values []float64) *tengo.Array {
	out := make([]tengo.Object, len(values))
	for i, v := range values {
		out[i] = &tengo.Float{Value: v}
	}
	return &tengo.Array{Value: out}
}

func floatsFromObject(o tengo.Object) ([]float64, bool) {
	var elems []tengo.Object
	switch arr := o.(type) {
	case *tengo.Array:
		elems = arr.Value
	case *tengo.ImmutableArray:
		elems = arr.Value
	default:
		return nil, false
	}
	out := make([]float64, len(elems))
	for i, e := range elems {
		v, ok := tengo.ToFloat64(e)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// weightsFromObject converts a script map into a weight vector.
func weightsFromObject(o tengo.Object) (domain.Weights, bool) {
	var entries map[string]tengo.Object
	switch m := o.(type) {
	case *tengo.Map:
		entries = m.Value
	case *tengo.ImmutableMap:
		entries = m.Value
	default:
		return nil, false
	}
	out := make(domain.Weights, len(entries))
	for t, v := range entries {
		f, ok := tengo.ToFloat64(v)
		if !ok {
			return nil, false
		}
		out[t] = f
	}
	return out, true
}

func boolValue(b bool) tengo.Object {
	if b {
		return tengo.TrueValue
	}
	return tengo.FalseValue
}

func latest(bs []bool) bool {
	return len(bs) > 0 && bs[len(bs)-1]
}
