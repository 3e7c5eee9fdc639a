// Package identity manages the account lifecycle for an email first product:
// registration with one time code verification, credential login, JWT session
// rotation, password reset, and login activity tracking.
//
// Account lifecycle:
//   - Register stores an inactive account and emails a six digit verification
//     code. VerifyEmail activates the account, enforcing the code expiry and
//     the attempt ceiling, and opens the first session.
//   - SessionManager exchanges credentials for an access/refresh token pair.
//     Refresh tokens are stored server side and rotated atomically on every
//     refresh, so a replayed token invalidates the session.
//   - PasswordResetManager emails a single use reset link. Only a SHA-256 digest
//     of the token is stored; consuming it also clears the refresh token.
//
// Activity:
//   - LoginActivityTracker appends a login event per successful login and
//     raises an email alert plus an in app notification when the device does
//     not match any prior event for the account.
//
// HTTP surface:
//   - AuthController mounts the lifecycle under /auth on a Fiber app.
//     AuthRequired validates bearer access tokens and RoleRequired gates
//     routes by role. NewErrorHandler maps the package's rich errors onto
//     their transport shape.
//
// Storage uses Bun repositories over the embedded SQL migrations, and email
// is delivered through the Mailer interface with the bundled templates.
package identity
