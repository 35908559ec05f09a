// Package session keeps the console's logged-in identity valid while any
// number of API calls are in flight.
//
// The pieces:
//   - Classifier sorts failed responses into Transient, AuthExpired,
//     AuthInvalid and Retryable.
//   - Coordinator makes sure only one renewal call is outstanding and
//     releases every waiting request once it settles.
//   - DegradedPolicy turns authorisation failures on optional resources
//     into neutral empty responses.
//   - Transport is the http.RoundTripper tying the above to the HTTP client:
//     a 401 on a business endpoint waits for renewal and replays once.
//   - Manager owns the identity lifecycle: boot, verify, proactive renewal,
//     login, logout and forced logout.
//
// Only AuthInvalid ends a session. Network failures and 5xx responses never
// do, including when the renewal endpoint itself is unreachable.
package session
