// Package session stores per-connection session records in Redis so support
// tooling and the other chat servers can see which identity a session belongs
// to and which server instance is holding the connection.
package session
