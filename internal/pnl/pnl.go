// Package pnl считает прибыль и убыток по позициям. Только чистые функции,
// без побочных эффектов.
package pnl

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// Report - PnL одной позиции или группы позиций в USD.
type Report struct {
	Invested float64 `json:"invested"` // AmountSOL * цена SOL
	Current  float64 `json:"current"`  // AmountToken * цена токена
	PnL      float64 `json:"pnl"`
	Percent  float64 `json:"percent"`
}

// Unrealized = held * price - invested_sol * ref_price.
func Unrealized(p domain.Position, tokenPrice, refPrice float64) float64 {
	return p.AmountToken*tokenPrice - p.AmountSOL*refPrice
}

// Percentage возвращает pnl в процентах от invested. При invested <= 0 это 0.
func Percentage(pnl, invested float64) float64 {
	if invested <= 0 {
		return 0
	}
	return pnl / invested * 100
}

// Evaluate строит отчет по одной позиции. Для закрытой позиции это
// реализованный PnL по цене закрытия.
func Evaluate(p domain.Position, tokenPrice, refPrice float64) Report {
	return newReport(p.AmountSOL*refPrice, p.AmountToken*tokenPrice)
}

func newReport(invested, current float64) Report {
	pnl := current - invested
	return Report{
		Invested: invested,
		Current:  current,
		PnL:      pnl,
		Percent:  Percentage(pnl, invested),
	}
}

// Rounded округляет поля до центов для вывода.
func (r Report) Rounded() Report {
	round := func(v float64) float64 {
		f, _ := decimal.NewFromFloat(v).Round(2).Float64()
		return f
	}
	return Report{
		Invested: round(r.Invested),
		Current:  round(r.Current),
		PnL:      round(r.PnL),
		Percent:  round(r.Percent),
	}
}

// TokenSummary - сводка по всем позициям на один токен.
type TokenSummary struct {
	Token       domain.TokenRef `json:"token"`
	Positions   int             `json:"positions"`
	AmountSOL   float64         `json:"amount_sol"`
	AmountToken float64         `json:"amount_token"`
	PriceUSD    float64         `json:"price_usd"`
	Report
}

// Summary - портфель владельца.
type Summary struct {
	Tokens []TokenSummary `json:"tokens"`
	Total  Report         `json:"total"`
	// Unpriced - токены без котировки. Неизвестная цена не равна нулю,
	// поэтому они не входят в итоги.
	Unpriced []domain.TokenRef `json:"unpriced,omitempty"`
}

// Aggregate группирует позиции по токену. Суммы invested и current
// складываются до расчета процента, проценты не усредняются.
func Aggregate(positions []domain.Position, prices map[string]float64, refPrice float64) Summary {
	byToken := make(map[string]*TokenSummary)
	var order []string
	unpriced := make(map[string]domain.TokenRef)

	for _, p := range positions {
		price, ok := prices[p.TokenAddress]
		if !ok {
			unpriced[p.TokenAddress] = domain.TokenRef{Address: p.TokenAddress, Symbol: p.TokenSymbol, Name: p.TokenName}
			continue
		}
		ts, exists := byToken[p.TokenAddress]
		if !exists {
			ts = &TokenSummary{
				Token:    domain.TokenRef{Address: p.TokenAddress, Symbol: p.TokenSymbol, Name: p.TokenName},
				PriceUSD: price,
			}
			byToken[p.TokenAddress] = ts
			order = append(order, p.TokenAddress)
		}
		ts.Positions++
		ts.AmountSOL += p.AmountSOL
		ts.AmountToken += p.AmountToken
	}

	var summary Summary
	var invested, current float64
	for _, addr := range order {
		ts := byToken[addr]
		ts.Report = newReport(ts.AmountSOL*refPrice, ts.AmountToken*ts.PriceUSD)
		invested += ts.Invested
		current += ts.Current
		summary.Tokens = append(summary.Tokens, *ts)
	}
	summary.Total = newReport(invested, current)

	for _, ref := range unpriced {
		summary.Unpriced = append(summary.Unpriced, ref)
	}
	sort.Slice(summary.Unpriced, func(i, j int) bool {
		return summary.Unpriced[i].Address < summary.Unpriced[j].Address
	})
	return summary
}

// PositionView - позиция с ее текущим PnL. Report равен nil без котировки.
type PositionView struct {
	domain.Position
	Report *Report `json:"pnl,omitempty"`
}

// Portfolio - позиции владельца и сводка по ним.
type Portfolio struct {
	Positions []PositionView `json:"positions"`
	Summary   Summary        `json:"summary"`
	RefPrice  float64        `json:"sol_price_usd"`
}
