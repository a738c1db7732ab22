// Package session tracks which live connection is in which ticket room. The
// Registry is the authoritative in-memory record; Store optionally mirrors
// it into Redis so operators can see who is online.
package session
