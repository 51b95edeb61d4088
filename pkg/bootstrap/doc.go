// Package bootstrap turns a config.Config into running components: the
// document store backend, the audit sinks, the request authenticator, the
// rate limiter and the domain services. Both binaries assemble themselves
// through it.
package bootstrap
