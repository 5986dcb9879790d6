package kolmo

// Coin identifies one of the three synthetic triangle instruments.
type Coin string

const (
	// CoinIOU2 is EUR/USD (euros per 1 dollar).
	CoinIOU2 Coin = "IOU2"
	// CoinME4U is USD/CNY (dollars per 1 yuan).
	CoinME4U Coin = "ME4U"
	// CoinUOME is CNY/EUR (yuan per 1 euro).
	CoinUOME Coin = "UOME"
)

// Coins returns all instruments in alphabetical (tie-break) order.
func Coins() []Coin {
	return []Coin{CoinIOU2, CoinME4U, CoinUOME}
}

// State classifies the invariant's deviation from 1.0.
type State string

const (
	StateOK       State = "OK"       // deviation < 1%
	StateWarn     State = "WARN"     // 1% <= deviation < 5%
	StateCritical State = "CRITICAL" // deviation >= 5%
)

// SelectionRule names the winner-selection rule recorded for auditability.
type SelectionRule string

const (
	RuleMaxPositive     SelectionRule = "max_positive_alphabetical_tiebreak"
	RuleLeastNegative   SelectionRule = "least_negative"
	RuleDefaultFirstDay SelectionRule = "default_first_day"
)
