package exchange

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Envelope is the common header of every inbound message; Raw keeps the full frame.
type Envelope struct {
	MsgType      string          `json:"msg_type"`
	ReqID        int64           `json:"req_id"`
	Error        *APIError       `json:"error"`
	Subscription *subscription   `json:"subscription"`
	Raw          json.RawMessage `json:"-"`
}

type subscription struct {
	ID string `json:"id"`
}

// Decode unmarshals the full frame into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

type authorizeResponse struct {
	Authorize struct {
		LoginID   string  `json:"loginid"`
		Currency  string  `json:"currency"`
		Balance   float64 `json:"balance"`
		IsVirtual int     `json:"is_virtual"`
	} `json:"authorize"`
}

// Account is what the broker reports about the authorized login.
type Account struct {
	LoginID  string
	Currency string
	Balance  float64
	Virtual  bool
}

type tickMessage struct {
	Tick struct {
		Symbol  string          `json:"symbol"`
		Quote   decimal.Decimal `json:"quote"`
		Epoch   int64           `json:"epoch"`
		PipSize int32           `json:"pip_size"`
		ID      string          `json:"id"`
	} `json:"tick"`
}

type historyMessage struct {
	History struct {
		Prices []decimal.Decimal `json:"prices"`
		Times  []int64           `json:"times"`
	} `json:"history"`
	PipSize int32 `json:"pip_size"`
}

type activeSymbolsMessage struct {
	ActiveSymbols []Symbol `json:"active_symbols"`
}

// Symbol is one market entry from active_symbols.
type Symbol struct {
	Symbol         string          `json:"symbol"`
	DisplayName    string          `json:"display_name"`
	Market         string          `json:"market"`
	Submarket      string          `json:"submarket"`
	Pip            decimal.Decimal `json:"pip"`
	ExchangeIsOpen int             `json:"exchange_is_open"`
}

// PipSize is the number of fractional digits the feed publishes for the symbol.
func (s Symbol) PipSize() int32 {
	if s.Pip.IsZero() {
		return 0
	}
	return -s.Pip.Exponent()
}

type proposalMessage struct {
	Proposal struct {
		ID       string  `json:"id"`
		AskPrice float64 `json:"ask_price"`
		Payout   float64 `json:"payout"`
		Spot     float64 `json:"spot"`
		Longcode string  `json:"longcode"`
	} `json:"proposal"`
}

// Proposal is a priced contract offer that can be bought once.
type Proposal struct {
	ID       string
	AskPrice float64
	Payout   float64
	Longcode string
}

type buyMessage struct {
	Buy struct {
		ContractID    int64   `json:"contract_id"`
		BuyPrice      float64 `json:"buy_price"`
		Payout        float64 `json:"payout"`
		BalanceAfter  float64 `json:"balance_after"`
		TransactionID int64   `json:"transaction_id"`
	} `json:"buy"`
}

// Purchase confirms a bought contract.
type Purchase struct {
	ContractID   int64
	BuyPrice     float64
	Payout       float64
	BalanceAfter float64
}

type openContractMessage struct {
	Contract ContractUpdate `json:"proposal_open_contract"`
}

// ContractUpdate is one proposal_open_contract update.
type ContractUpdate struct {
	ContractID int64   `json:"contract_id"`
	IsSold     int     `json:"is_sold"`
	Status     string  `json:"status"`
	Profit     float64 `json:"profit"`
	BuyPrice   float64 `json:"buy_price"`
	EntrySpot  string  `json:"entry_tick_display_value"`
	ExitSpot   string  `json:"exit_tick_display_value"`
}

// Settled reports whether the contract has a final outcome.
func (c ContractUpdate) Settled() bool {
	return c.IsSold == 1 && (c.Status == "won" || c.Status == "lost")
}

type balanceMessage struct {
	Balance struct {
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
	} `json:"balance"`
}
