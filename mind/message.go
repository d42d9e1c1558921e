package mind

import "context"

// Performatives understood by Deliver.
const (
	PerformativeTell    = "tell"
	PerformativeUntell  = "untell"
	PerformativeAchieve = "achieve"
)

// Message is an agent communication message. Content is agent language text
// such as "vl(10)".
type Message struct {
	ID           string `json:"id,omitempty"`
	Performative string `json:"performative"`
	Sender       string `json:"sender"`
	Receiver     string `json:"receiver"`
	Content      string `json:"content"`
	InReplyTo    string `json:"in_reply_to,omitempty"`
}

// Environment is what an agent can reach outside its own mind. The platform
// implements it.
type Environment interface {
	Send(ctx context.Context, msg Message) error
	RegisterService(ctx context.Context, agent, service, typ string) error
	RemoveService(ctx context.Context, agent, service string) error
}
