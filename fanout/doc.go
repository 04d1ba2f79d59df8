// Package fanout dispatches notification messages from the category queues
// to their delivery strategies. It owns the routing-key classification, the
// per-message ack/reject decision, and the four recipient-resolution
// strategies; token lookup and push delivery are injected collaborators.
package fanout
