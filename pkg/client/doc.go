// Package client is a thin Go client for the burrow HTTP API, used by the
// burrow CLI. Every call is bounded by a short timeout; non-2xx answers come
// back as *APIError.
package client
