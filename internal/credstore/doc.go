// Package credstore persists the last-known console identity across restarts.
//
// A Store holds exactly one serialised auth.Identity under the key
// "hms.identity". Reads are synchronous and never fail from the caller's
// point of view: missing or corrupt data means "logged out", and corrupt data
// is cleared as a side effect of Load.
//
// Backends:
//   - FileStore: a JSON file written atomically with 0600 permissions.
//     Watch reports changes made by other console processes.
//   - SQLiteStore: one row of the credential_store table.
//   - MemoryStore: process-local, for tests and throwaway sessions.
//
// The store never holds credentials themselves. Access and refresh tokens
// live in the HTTP client's cookie jar.
package credstore
