package events

import (
	"math"
	"time"
)

// Type identifies an event variant on the wire.
type Type string

// Event types.
const (
	TypeCompleted        Type = "mcp.tool.completed"
	TypeFailed           Type = "mcp.tool.failed"
	TypePaymentRequired  Type = "mcp.tool.payment_required"
	TypePaymentCompleted Type = "mcp.tool.payment_completed"
	TypePaymentFailed    Type = "mcp.tool.payment_failed"
)

// PaymentType classifies how a paid tool is billed.
type PaymentType string

// Payment types.
const (
	PaymentTypeUsageBased          PaymentType = "usageBased"
	PaymentTypeOneTimeSubscription PaymentType = "oneTimeSubscription"
)

// PaymentStatusRequired is the status carried by every PaymentRequired event.
const PaymentStatusRequired = "required"

// Event is one tool invocation outcome. The set of implementations is closed:
// Completed, Failed, PaymentRequired, PaymentCompleted and PaymentFailed.
type Event interface {
	EventType() Type
	Common() *Base
	sealed()
}

// UserInfo identifies the caller of a tool. All fields are optional.
type UserInfo struct {
	UserID   string `json:"userId,omitempty"`
	Email    string `json:"userEmail,omitempty"`
	Username string `json:"username,omitempty"`
}

// IsZero reports whether no identity field is set.
func (u UserInfo) IsZero() bool {
	return u.UserID == "" && u.Email == "" && u.Username == ""
}

// ClientInfo describes the MCP client that issued the call.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Base holds the fields shared by every event variant.
type Base struct {
	ServerName    string         `json:"serverName"`
	ServerVersion string         `json:"serverVersion"`
	Environment   string         `json:"environment"`
	Timestamp     time.Time      `json:"timestamp"`
	ToolName      string         `json:"toolName"`
	Parameters    map[string]any `json:"parameters"`
	Duration      int64          `json:"duration"`
	SessionID     string         `json:"sessionId,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	UserInfo
	ClientVersion *ClientInfo `json:"clientVersion,omitempty"`
}

// Common returns the shared fields.
func (b *Base) Common() *Base { return b }

// Completed is a free tool invocation whose handler returned normally.
type Completed struct {
	Base
	Result any `json:"result,omitempty"`
}

// Failed is a free tool invocation whose handler returned an error or panicked.
type Failed struct {
	Base
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

// PaymentRequired is a paid tool invocation withheld pending checkout.
type PaymentRequired struct {
	Base
	CustomerID  string      `json:"customerId"`
	PaymentType PaymentType `json:"paymentType"`
	PriceID     string      `json:"priceId"`
}

// PaymentCompleted is a paid tool invocation that ran for an entitled customer.
// Payment detail fields are nil when the post-execution lookup failed.
type PaymentCompleted struct {
	Base
	CustomerID       string      `json:"customerId"`
	PaymentType      PaymentType `json:"paymentType"`
	PriceID          string      `json:"priceId"`
	PaymentStatus    string      `json:"paymentStatus,omitempty"`
	PaymentAmount    *int64      `json:"paymentAmount,omitempty"`
	PaymentCurrency  *string     `json:"paymentCurrency,omitempty"`
	PaymentDate      *time.Time  `json:"paymentDate,omitempty"`
	PaymentSessionID *string     `json:"paymentSessionId,omitempty"`
	SubscriptionID   *string     `json:"subscriptionId,omitempty"`
	Result           any         `json:"result,omitempty"`
}

// PaymentFailed is a paid tool invocation that ended in a gateway or handler error.
// CustomerID is empty when the customer could not be resolved.
type PaymentFailed struct {
	Base
	ErrorType    string      `json:"errorType"`
	ErrorMessage string      `json:"errorMessage"`
	CustomerID   string      `json:"customerId,omitempty"`
	PaymentType  PaymentType `json:"paymentType"`
	PriceID      string      `json:"priceId"`
}

func (*Completed) EventType() Type        { return TypeCompleted }
func (*Failed) EventType() Type           { return TypeFailed }
func (*PaymentRequired) EventType() Type  { return TypePaymentRequired }
func (*PaymentCompleted) EventType() Type { return TypePaymentCompleted }
func (*PaymentFailed) EventType() Type    { return TypePaymentFailed }

func (*Completed) sealed()        {}
func (*Failed) sealed()           {}
func (*PaymentRequired) sealed()  {}
func (*PaymentCompleted) sealed() {}
func (*PaymentFailed) sealed()    {}

// Success reports the success flag transmitted for e.
func Success(e Event) bool {
	switch e.(type) {
	case *Completed, *PaymentCompleted:
		return true
	default:
		return false
	}
}

// DurationMillis converts an execution duration to whole milliseconds,
// rounding to nearest and never returning less than 1.
func DurationMillis(d time.Duration) int64 {
	ms := int64(math.Round(float64(d) / float64(time.Millisecond)))
	if ms < 1 {
		return 1
	}
	return ms
}
