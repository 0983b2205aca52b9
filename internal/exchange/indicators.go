package exchange

// IndicatorPeriod is the number of daily closes the indicators need: fourteen
// changes for the RSI plus the close before them.
const IndicatorPeriod = 15

// Indicators are technical indicators over daily closes.
type Indicators struct {
	SMA7     float64 `json:"sma_7"`
	SMA14    float64 `json:"sma_14"`
	RSI14    float64 `json:"rsi_14"`
	Change7d float64 `json:"change_7d"`
}

// ComputeIndicators derives the indicators from daily closes, oldest first.
// It returns nil when fewer than IndicatorPeriod closes are given. The RSI
// uses plain averages of the last fourteen gains and losses.
func ComputeIndicators(closes []float64) *Indicators {
	n := len(closes)
	if n < IndicatorPeriod {
		return nil
	}

	ind := &Indicators{
		SMA7:  mean(closes[n-7:]),
		SMA14: mean(closes[n-14:]),
		RSI14: 100,
	}

	var gains, losses float64
	for i := n - 14; i < n; i++ {
		if d := closes[i] - closes[i-1]; d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if losses > 0 {
		rs := gains / losses
		ind.RSI14 = 100 - 100/(1+rs)
	}

	if ref := closes[n-8]; ref > 0 {
		ind.Change7d = (closes[n-1] - ref) / ref * 100
	}
	return ind
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
