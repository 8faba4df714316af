// Package focus is the HTTP client layer for the Teamleader Focus API. It
// wires the throttle and tokens packages around every outbound call: check
// the limiter, honor the advised delay, attach a valid bearer token, record
// the dispatch, reconcile rate-limit headers from the response, and back off
// on 429s with bounded retries.
//
// The per-entity resource surface of the Focus API (companies, invoices,
// projects, ...) is deliberately not wrapped here; callers use Get and Post
// with the API's method paths (for example "companies.list") directly.
package focus
