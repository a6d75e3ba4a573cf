// Package httputil provides the HTTP plumbing for the remote data source.
//
// # Overview
//
//   - [Client]: JSON requests against a base URL with default headers
//   - [Retry]: retry with exponential backoff for transient failures
//
// # Retry
//
// [Retry] only repeats errors wrapped in [RetryableError]. [Client] wraps
// network failures, 5xx responses and 429 responses; everything else,
// including 404 and validation errors, fails on the first attempt:
//
//	c, err := httputil.NewClient("http://localhost:8000/api/v1",
//	    httputil.WithBearerToken(token))
//	var tests []domain.Test
//	err = c.Get(ctx, "/tests/feature/12", &tests)
//
// Every attempt is reported to [observability.HTTP] hooks.
//
// # Configuration
//
// Default settings:
//
//   - Timeout per attempt: 10 seconds
//   - Attempts: 3
//   - Initial backoff: 1 second, doubling
package httputil
