package refund

import "time"

const DefaultWindowDays = 14

// executionLease bounds how long a refund execution claim blocks another
// one; a claim left behind by a crash expires after this.
const executionLease = 5 * time.Minute

type Config struct {
	// WindowDays is the refund window measured from the payment date.
	WindowDays int
}

type RefundRequest struct {
	OrderItemUID string `json:"orderItemUid"`
	Reason       string `json:"refundReason"`
}

type RefundExecuteRequest struct {
	PaymentID    string `json:"paymentId"`
	OrderItemUID string `json:"orderItemUid"`
	Reason       string `json:"refundReason"`
}
