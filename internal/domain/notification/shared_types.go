// internal/domain/notification/shared_types.go
package notification

// DeliveryStatus is the persisted state of a cycle's reminder.
type DeliveryStatus string

const (
	StatusReserved DeliveryStatus = "reserved" // an invocation holds the cycle; nothing handed to the provider yet
	StatusSending  DeliveryStatus = "sending"  // handed to the provider; never taken over automatically
	StatusSent     DeliveryStatus = "sent"     // terminal
	StatusFailed   DeliveryStatus = "failed"   // attempted and failed; a later invocation may retry
)

// Outcome is what a delivery attempt ended with.
type Outcome struct {
	Status DeliveryStatus
	Error  string
}

func Sent() Outcome { return Outcome{Status: StatusSent} }

// Sending marks the cycle as handed to the mail provider.
func Sending() Outcome { return Outcome{Status: StatusSending} }

func Failed(err error) Outcome {
	o := Outcome{Status: StatusFailed}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}
