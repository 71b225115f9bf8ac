package strategy

import "quantfolio/internal/domain"

// Templates are example scripts seeded into a fresh install. They double as
// living documentation of the ctx capability surface.
func Templates() []domain.StrategyRecord {
	return []domain.StrategyRecord{
		{
			Name:        "equal-weight",
			Description: "Rebalance every period to an equal split across all tickers.",
			Code: `strategy := func() {
	tickers := ctx.tickers()
	weights := {}
	for t in tickers {
		weights[t] = 100.0 / len(tickers)
	}
	return weights
}
`,
		},
		{
			Name:        "sma-rotation",
			Description: "Hold only tickers trading above their 50-day moving average.",
			Code: `strategy := func() {
	weights := {}
	above := []
	for t in ctx.tickers() {
		prices := ctx.prices(t)
		if len(prices) == 0 {
			continue
		}
		sma := ctx.sma(t, 50)
		last := prices[len(prices)-1]
		if last > sma[len(sma)-1] {
			above = append(above, t)
		}
	}
	if len(above) == 0 {
		ctx.log("no ticker above its 50-day average, holding current weights")
		return ctx.get_current_weights()
	}
	for t in above {
		weights[t] = 100.0 / len(above)
	}
	ctx.log("holding " + string(len(above)) + " tickers above trend")
	return weights
}
`,
		},
		{
			Name:        "rsi-mean-reversion",
			Description: "Overweight oversold tickers (RSI < 30), underweight overbought (RSI > 70).",
			Code: `strategy := func() {
	weights := {}
	for t in ctx.tickers() {
		rsi := ctx.rsi(t, 14)
		if len(rsi) == 0 {
			continue
		}
		last := rsi[len(rsi)-1]
		if last < 30 {
			weights[t] = 2.0
			ctx.log(t + " oversold, rsi " + string(last))
		} else if last > 70 {
			weights[t] = 0.5
			ctx.log(t + " overbought, rsi " + string(last))
		} else {
			weights[t] = 1.0
		}
	}
	return weights
}
`,
		},
		{
			Name:        "volatility-target",
			Description: "Size positions inversely to each ticker's recent volatility.",
			Code: `strategy := func() {
	weights := {}
	for t in ctx.tickers() {
		vol := ctx.volatility(t, 21)
		if len(vol) == 0 {
			continue
		}
		v := vol[len(vol)-1]
		if v <= 0 {
			v = 0.01
		}
		weights[t] = 1.0 / v
	}
	return weights
}
`,
		},
	}
}
