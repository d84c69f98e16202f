// ABOUTME: Package console is the application root of the session engine
// ABOUTME: It owns the event loop and every component the channels feed

// Package console ties the channel manager, outbound dispatcher, router,
// loading barrier and session coordinator together.
//
// # Driven channel
//
// Exactly one channel is driven at a time. While a session is held the
// admin channel is driven; otherwise the anonymous one is. When the driven
// channel opens the console waits the configured settle delay, resets the
// loading barrier and requests every bootstrap topic the session may see:
//
//	admin:     THEME SCHEMAS CONTACTS* CREDENTIALS* PRESENTATIONS* ROLES*
//	           ORGANIZATION SMTP* LOGO USERS*
//	anonymous: THEME SCHEMAS ORGANIZATION LOGO
//
// Starred topics are gated on the capability predicate.
//
// # Session loss
//
// A peer close of the admin channel ends the session locally and triggers a
// renewal. A successful renewal reopens the admin channel; a failed one
// falls back to the anonymous channel and reruns its bootstrap.
//
// # Concurrency
//
// Channel events, bootstrap timers and renewal results all run on one
// event loop. Blocking HTTP calls run on their own goroutines and post
// their results back.
package console
