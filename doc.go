// Package tokenpipe keeps an API client's bearer-token session alive.
//
// A session is a Credential: an access token that authorizes requests and a
// longer-lived refresh token that buys new access tokens. Every outgoing
// request passes through a pipeline that attaches the access token, refreshes
// it shortly before it expires, and recovers once from a 401 by refreshing
// and replaying the request.
//
// # Architecture
//
// Credential: the immutable token pair with its expiries and the signed-in
// user. Refreshing produces a new Credential.
//
// CredentialStore: the single source of truth for the current Credential.
// ServerCredentialStore keeps one Credential per server; Bind narrows it to
// one server. Implementations live in MemoryStore and the stores/ packages
// (file, GORM, Cloud Datastore, Redis).
//
// Pipeline (package client): the request gate and 401 recovery. However
// many requests find the token expired at once, only one refresh runs and
// everyone waits for its result.
//
// SessionObserver: told when the pipeline ends a session or saves a new
// Credential.
//
// # Basic Usage
//
//	import (
//	    "github.com/panyam/tokenpipe/client"
//	    "github.com/panyam/tokenpipe/stores/fs"
//	)
//
//	store, _ := fs.NewFSCredentialStore("", "myapp")
//	c, _ := client.NewAuthClient("https://api.example.com", store,
//	    client.WithObserver(tokenpipe.ObserverFuncs{
//	        Logout: func(reason error) { showLoginScreen(reason) },
//	    }),
//	)
//	c.Login(ctx, "user@example.com", "password")
//	resp, _ := c.HTTPClient().Get("https://api.example.com/api/items/")
//
// gRPC clients use the interceptors in package grpc:
//
//	conn, _ := grpc.NewClient(target, tpgrpc.DialOptions(c.Pipeline(), nil)...)
//
// # Failure classes
//
// A refresh either succeeds, is rejected by the server (terminal: the
// session is destroyed and OnLogout fires), or could not complete
// (transient: the session is kept and the error is returned). Use IsTerminal
// and IsTransient to tell them apart.
//
// # Exemptions
//
// Sign-in, sign-up and refresh endpoints never carry a credential. The
// allow-list is fixed at configuration time and matches exact paths or full
// gRPC method names.
package tokenpipe
