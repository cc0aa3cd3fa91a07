// Package agent binds a fixed persona to a language model backend. An Agent
// is immutable after construction and keeps no state between calls.
package agent
