// Package session wraps one scalability-protocol socket with a checked
// lifecycle, a synchronous request/reply exchange and an optional background
// receive loop.
//
// A Session owns its transport.Handle. Connect dials, Send performs one send
// followed by one blocking receive, Receive starts a loop that hands inbound
// messages to a callback through a bridge.Bridge, and Close tears everything
// down. All blocking calls on the handle are serialized, so a receive loop and
// Send never race for the same reply; Send reports ErrBusy while a loop runs.
//
// Typical use:
//
//	s, err := session.Open(transport.Req0, "tcp://127.0.0.1:5555", session.Options{
//	    RecvTimeout: time.Second,
//	    SendTimeout: time.Second,
//	})
//	if err != nil { ... }
//	defer s.Close()
//	reply, err := s.Send([]byte("ping"))
//
// Errors are *Error values; match them with errors.Is against ErrNotConnected,
// ErrRecvTimeout, ErrConnectionClosed and the other sentinels.
package session
