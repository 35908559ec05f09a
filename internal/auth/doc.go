// Package auth defines the identity model shared by the HMS console.
//
// It implements a 3-tier role model (tenant-staff → tenant-owner → elevated-admin):
//   - Identity is the record the console keeps for the logged-in operator
//   - ID accepts both JSON strings and numbers, since backends disagree
//   - TokenLifetime peeks at a JWT access credential to learn its expiry
//
// The console never validates credential signatures: that is the identity
// provider's job. Expiry is read only to schedule proactive renewal.
package auth
