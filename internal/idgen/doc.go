// Package idgen hands out the opaque identifiers used for pipeline runs,
// workers and connections. Callers treat the values as opaque strings.
package idgen
