// Package auth implements the portal's credential primitives: salted PBKDF2
// password hashes, HMAC-signed bearer tokens carrying user id and role, and
// an in-memory store of one-time codes for password resets.
package auth
