package link

// Channel is the process boundary as seen by a link. Implementations deliver
// responses in order, one at a time, to the single registered handler.
type Channel interface {
	SendMessage(msg *Message) error
	OnMessage(handler func(*Response))
}

// ClosingChannel is implemented by channels that can report their own
// closure. Every operation still pending at that point ends prematurely.
type ClosingChannel interface {
	Channel
	OnClose(handler func(error))
}
