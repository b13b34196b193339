package mail

import "context"

// Message is a rendered email ready for delivery.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message. Any returned error is treated as a failed delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
