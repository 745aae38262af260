package core

// MediaConnection abstracts the transport serving one call.
// Owned by the adapter; the session only borrows it and asks it to Close().
type MediaConnection interface {
	ID() string
	// Send writes one encoded frame. It returns once the frame is handed to
	// the transport, or with an error if the connection is not open.
	Send(raw []byte) error
	Close()
	IsOpen() bool
}
