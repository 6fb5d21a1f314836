package core

// Frame is an encoded domain.Frame ready to be written to a connection.
type Frame []byte

// SignalConnection abstracts a hub-side streaming connection.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
