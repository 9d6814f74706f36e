// Package email sends transactional email through Postmark, with a logging
// fallback for development.
package email
