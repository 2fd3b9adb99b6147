// Package auth provides bearer token authorisation for the GPIO bridge API.
//
// It implements a 3-tier role model (viewer → operator → admin) with:
//   - HS256 JWT access tokens signed with the configured secret
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Tokens are issued by "gpiobridge -token <role>" or by any system that
// shares the secret. The bridge itself stores no users.
package auth
