package scenario

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	gainStyle   = cellStyle.Foreground(lipgloss.Color("10"))
	lossStyle   = cellStyle.Foreground(lipgloss.Color("9"))
	errorStyle  = cellStyle.Foreground(lipgloss.Color("9")).Italic(true)
)

// fixed formats v with two decimals.
func fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func signStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return gainStyle
	case v < 0:
		return lossStyle
	default:
		return cellStyle
	}
}

// RenderTable writes the scenario comparison and the per-ticker breakdown
// of rep to w.
func RenderTable(w io.Writer, rep *Report) error {
	comparison := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Scenario", "Risk %", "Avg Return %", "Avg Win Rate %", "Avg Max DD %", "Avg Sharpe", "OK/Total")
	returns := make([]float64, len(rep.Results))
	for i, res := range rep.Results {
		s := res.Summary
		returns[i] = s.AvgReturn
		comparison.Row(
			res.Scenario.Name,
			fixed(res.Scenario.RiskFraction*100),
			fixed(s.AvgReturn),
			fixed(s.AvgWinRate),
			fixed(s.AvgMaxDrawdown),
			fixed(s.AvgSharpeRatio),
			fmt.Sprintf("%d/%d", s.SuccessfulTests, s.TotalTests),
		)
	}
	comparison.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case col == 2:
			return signStyle(returns[row])
		default:
			return cellStyle
		}
	})

	type line struct {
		ret float64
		err bool
	}
	var lines []line
	detail := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Scenario", "Ticker", "Return %", "Win Rate %", "Trades", "Final Balance", "Max DD %", "Sharpe")
	for _, res := range rep.Results {
		for _, o := range res.Outcomes {
			if !o.OK() {
				lines = append(lines, line{err: true})
				detail.Row(res.Scenario.Name, o.Ticker, "ERROR: "+o.Err, "", "", "", "", "")
				continue
			}
			m := o.Metrics
			lines = append(lines, line{ret: m.TotalReturn})
			detail.Row(
				res.Scenario.Name,
				o.Ticker,
				fixed(m.TotalReturn),
				fixed(m.WinRate),
				strconv.Itoa(m.TotalTrades),
				fixed(m.FinalBalance),
				fixed(m.MaxDrawdown),
				fixed(m.SharpeRatio),
			)
		}
	}
	detail.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case lines[row].err && col == 2:
			return errorStyle
		case !lines[row].err && col == 2:
			return signStyle(lines[row].ret)
		default:
			return cellStyle
		}
	})

	period := "full history"
	if !rep.Range.Start.IsZero() || !rep.Range.End.IsZero() {
		period = fmt.Sprintf("%s to %s", orOpen(formatDate(rep.Range.Start)), orOpen(formatDate(rep.Range.End)))
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n\n%s\n%s\n",
		titleStyle.Render(fmt.Sprintf("SCENARIO COMPARISON  %s  %s", rep.Strategy, period)),
		comparison.Render(),
		titleStyle.Render("BACKTESTING LOOP SUMMARY"),
		detail.Render(),
	)
	return err
}

func orOpen(s string) string {
	if s == "" {
		return "…"
	}
	return s
}
