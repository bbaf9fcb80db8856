package stream

// Command is an outbound protocol message: subscribe, unsubscribe or ping.
type Command struct {
	Action  string   `json:"action"`
	Channel string   `json:"channel,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// MarketData is the payload of a market_data envelope.
type MarketData struct {
	Price  float64 `json:"price"`
	Bid    float64 `json:"bid,omitempty"`
	Ask    float64 `json:"ask,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

// Envelope is the inbound message frame, tagged by Type. Unknown types are
// logged and dropped by the connection, never fatal.
type Envelope struct {
	Type      string      `json:"type"` // market_data | pong | error | subscribed
	Symbol    string      `json:"symbol,omitempty"`
	Data      *MarketData `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"` // exchange time, Unix millis
	Channel   string      `json:"channel,omitempty"`
	Code      string      `json:"code,omitempty"` // error code, e.g. rate_limit_warning
	Message   string      `json:"message,omitempty"`
}

const (
	TypeMarketData = "market_data"
	TypePong       = "pong"
	TypeError      = "error"
	TypeSubscribed = "subscribed"
)

// Server error codes that trigger subscription shedding.
const (
	CodeRateLimitWarning   = "rate_limit_warning"
	CodeRateLimitEmergency = "rate_limit_emergency"
)
