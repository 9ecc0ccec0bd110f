// Package middleware provides HTTP middleware for the vdotapes API.
//
// It includes:
//   - Access logging in W3C Extended Log Format
//   - Prometheus request metrics labelled by route template
//   - gzip compression of larger JSON responses
package middleware
