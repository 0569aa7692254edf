// Package auth provides user accounts and bearer tokens for the lock API.
//
// Two roles exist. A user registers and operates their own locks; an
// admin can additionally reassign locks between users. Passwords are
// stored as Argon2id PHC strings and never compared in plaintext.
// Access tokens are HS256 JWTs carrying the user id and role, validated
// by signature alone so the request path needs no database lookup.
//
// Accounts always live in the local SQLite database, whichever backend
// holds the lock registry.
package auth
