// Package transport defines the raw socket handle the session layer drives and
// the protocol identifiers it is created for.
//
// Key concepts:
// - Protocol: the topology a socket speaks (pair, pub/sub, req/rep, pipeline, survey, bus)
// - Handle: one native socket with Dial/Listen/Send/Recv/Close, created with fixed timeouts
// - Factory: allocates handles; sp.Open backs them with mangos, mem.Open keeps them in-process
//
// Handles report ErrClosed, ErrRecvTimeout and ErrSendTimeout wrapped with %w
// so callers can classify failures with errors.Is.
package transport
