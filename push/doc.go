// Package push delivers notifications to device tokens through an HTTP
// push gateway.
package push
