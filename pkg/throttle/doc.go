// Package throttle provides a client-side sliding-window rate limiter for the
// Teamleader Focus API, which allows 200 requests per trailing minute.
//
// The limiter is advisory: Check returns a Decision describing whether the
// caller should proceed and how long it should sleep first, but it never
// blocks by itself. Callers record each dispatched request with Record and
// feed response headers back through UpdateFromHeaders so the local estimate
// stays reconciled with what the server reports.
//
// All state is owned by the Limiter instance. Nothing is global, so multiple
// limiters (for example one per credential) can coexist and tests can inject
// their own clock.
package throttle
