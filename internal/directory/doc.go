// Package directory talks to the session gateway: session search,
// registration (RARF) lookups and username to email resolution.
package directory
