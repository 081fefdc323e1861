// Package client runs the authenticated request pipeline: it attaches the
// current credential to outgoing calls, refreshes it at most once at a time,
// and replays calls the server rejected with 401.
//
// AuthClient is the usual entry point for HTTP. Pipeline and Coordinator are
// exposed for other transports (see the grpc package).
package client
