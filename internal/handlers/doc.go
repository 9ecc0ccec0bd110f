// Package handlers provides HTTP request handlers for the vdotapes API.
//
// It includes handlers for:
//   - Item listing, lookup and folder browsing
//   - Favorite, hidden and rating annotations
//   - Tag management (add, remove, rename, merge)
//   - Settings, backup export/import and metadata sync
//   - Health checks, version and Prometheus metrics
//
// Store errors map onto status codes: validation failures are 400, missing
// entities 404, conflicts 409 and an unopened or unmigrated store 503.
package handlers
