// Package hub manages real-time client connections.
//
// Each connection starts in PhaseConnected and must send identify before
// anything else. A failed identify returns it to PhaseConnected with a
// clientError so it may retry; a successful one moves it to
// PhaseAuthenticated, after which it receives broadcasts and, if it is a
// management client, may submit pushupEvent and stateDelta messages.
//
// Outbound frames for one connection are written by a single goroutine in
// the order they were queued.
package hub
