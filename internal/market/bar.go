package market

// Direction of a trade or signal.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Long {
		return "LONG"
	}
	return "SHORT"
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Bar is one completed bar of the primary series. Immutable once appended
// to a Series; the host feed owns the in-progress bar until it closes.
type Bar struct {
	Number          int     `json:"number"`
	Time            int     `json:"time"` // HHMMSS, exchange local
	Open            float64 `json:"open"`
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	Close           float64 `json:"close"`
	Volume          int64   `json:"volume"`
	BuyVolume       int64   `json:"buy_volume"`
	SellVolume      int64   `json:"sell_volume"`
	Delta           int64   `json:"delta"` // buy volume - sell volume
	CumulativeDelta int64   `json:"cumulative_delta"`
	BidStacked      bool    `json:"bid_stacked"` // stacked bid imbalance (support)
	AskStacked      bool    `json:"ask_stacked"` // stacked ask imbalance (resistance)
}

// Range is high minus low.
func (b Bar) Range() float64 { return b.High - b.Low }

// Body is the absolute open-to-close distance.
func (b Bar) Body() float64 {
	body := b.Close - b.Open
	if body < 0 {
		return -body
	}
	return body
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// UpperWick is the distance from the body top to the high.
func (b Bar) UpperWick() float64 {
	top := b.Open
	if b.Close > top {
		top = b.Close
	}
	w := b.High - top
	if w < 0 {
		return 0
	}
	return w
}

// LowerWick is the distance from the low to the body bottom.
func (b Bar) LowerWick() float64 {
	bot := b.Open
	if b.Close < bot {
		bot = b.Close
	}
	w := bot - b.Low
	if w < 0 {
		return 0
	}
	return w
}

// TypicalPrice is (H+L+C)/3, used by the VWAP estimate.
func (b Bar) TypicalPrice() float64 { return (b.High + b.Low + b.Close) / 3.0 }
