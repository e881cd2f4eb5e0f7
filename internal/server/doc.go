// Package server exposes the job coordinator over HTTP and websockets.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [BasicRouter] implements it on a
// gorilla/mux router. [Middleware] is bound when a route is registered, so routes added before
// [Authenticate] is installed stay public.
//
// Handlers implement [Handler], which wraps [http.Handler] and lists the [Route]s it owns.
//
// # Endpoints
//
//	GET    /health          store reachability, public
//	POST   /api/jobs        submit a job, 202 with its id or 409 if the resource is busy
//	GET    /api/jobs        the caller's known jobs
//	GET    /api/jobs/{id}   one job; other users' jobs are reported as missing
//	DELETE /api/jobs/{id}   request cooperative cancellation
//	GET    /ws              websocket stream of job envelopes
//
// Credentials are bearer tokens, either JWTs or API keys, in the Authorization header or the token query
// parameter for clients that cannot set headers on an upgrade.
//
// # Websocket Stream
//
// On connect the client first receives an "initial" envelope listing its jobs, then one "update" envelope per
// event. The server pings on an interval; pongs and any inbound frame keep the connection alive.
//
// # OAuth Callback Handler
//
// [OAuthHandler] receives the Nextcloud authorization code during `podtasks auth nextcloud`. It runs on a
// short-lived local server, checks the state parameter, exchanges the code and delivers the token once.
package server
