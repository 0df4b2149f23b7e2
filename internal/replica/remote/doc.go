// Package remote is the HTTP client for the authoritative ERP store.
//
// Fetch reads a whole collection:
//
//	GET <base><resource>
//	Authorization: Bearer <token>
//
// and accepts either a JSON array of records or an object wrapping one.
// When the server sends an X-Snapshot-Version header its value becomes the
// snapshot's version; otherwise the version is left zero for the caller to
// stamp.
//
// Submit sends one queued operation with its ID as the Idempotency-Key, so
// a retried create the server already applied is not applied twice.
//
// Every failure is reduced to one of the schema sentinels:
//
//	transport error, 408, 429, 5xx   schema.ErrNetworkUnavailable
//	401                               schema.ErrAuthExpired (token cleared)
//	other 4xx                         *schema.RejectedError
//	undecodable body                  schema.ErrMalformedResponse
package remote
