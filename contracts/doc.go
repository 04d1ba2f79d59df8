// Package contracts defines the wire-level types shared by publishers and
// consumers: the routing-key grammar, the JSON envelope, and delivery
// tickets. It has no broker dependencies and can be imported by any service
// that publishes notifications.
package contracts
