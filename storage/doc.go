// Package storage defines the repository interfaces and the binary
// serialization used for persisted state. Backends live in subpackages;
// the default is BadgerDB.
package storage
