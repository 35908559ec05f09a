// Package httpclient is the console's connection to the HMS backend.
//
// Credentials travel in cookies set by the identity provider and replayed by
// the client's jar; nothing in this package or above it attaches credential
// headers. The client adds a User-Agent and an X-Request-ID to every request
// and can throttle outbound traffic with a token bucket.
//
// Layers can be stacked on the transport with Use. The session package
// installs its 401 interception that way.
package httpclient
