package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
)

// Context keys attached to provider errors.
const (
	ctxProvider   = "provider"
	ctxRetryAfter = "retry_after_seconds"
)

// Kind is the reason code the manager branches on.
type Kind int

const (
	// KindTransient is retried locally with backoff.
	KindTransient Kind = iota
	// KindRateLimit puts the provider into cooldown; never retried locally.
	KindRateLimit
	// KindNotFound is an authoritative "no such symbol" answer.
	KindNotFound
	// KindUnsupported means the adapter does not implement the operation.
	KindUnsupported
	// KindFailure is a definitive provider error (bad payload, auth, ...).
	KindFailure
	// KindCanceled means the caller's context ended.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindUnsupported:
		return "unsupported"
	case KindFailure:
		return "failure"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// RateLimited signals an explicit upstream rate limit. A zero retryAfter
// lets the manager apply its default cooldown.
func RateLimited(provider string, retryAfter time.Duration) error {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	msg := fmt.Sprintf("%s: rate limited", provider)
	if secs > 0 {
		msg = fmt.Sprintf("%s: rate limited, retry after %ds", provider, secs)
	}
	return platformerrors.WithContextMap(platformerrors.New(platformerrors.CodeRateLimit, msg), map[string]interface{}{
		ctxProvider:   provider,
		ctxRetryAfter: secs,
	})
}

// NotFound reports that the provider has no data for symbol.
func NotFound(provider, symbol string) error {
	return platformerrors.WithContext(
		platformerrors.Newf(platformerrors.CodeNotFound, "no data for %s", symbol),
		ctxProvider, provider)
}

// Unsupported reports an operation the adapter does not implement.
func Unsupported(provider string, c Capability) error {
	return platformerrors.WithContext(
		platformerrors.Newf(platformerrors.CodeNotImplemented, "%s does not support %s", provider, c),
		ctxProvider, provider)
}

// Failed is a definitive provider error; terminal for the provider on
// this call.
func Failed(provider, format string, args ...any) error {
	return platformerrors.WithContext(
		platformerrors.Newf(platformerrors.CodeExecutionFailed, provider+": "+format, args...),
		ctxProvider, provider)
}

// Transient wraps a network-level or otherwise retriable failure.
func Transient(provider string, err error, msg string) error {
	code := platformerrors.CodeNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		code = platformerrors.CodeTimeout
	}
	return platformerrors.WithContext(
		platformerrors.Wrap(err, code, provider+": "+msg),
		ctxProvider, provider)
}

// NoProviders is returned when no provider can serve the capability.
func NoProviders(c Capability) error {
	return platformerrors.WithClassification(
		platformerrors.Newf(platformerrors.CodeUnavailable, "no providers available for %s", c),
		platformerrors.ClassificationPermanent)
}

// AllFailed is returned when every candidate ran without leaving an error
// behind to report.
func AllFailed(c Capability) error {
	return platformerrors.Newf(platformerrors.CodeUnavailable, "all providers failed for %s", c)
}

// KindOf classifies err. Untyped errors are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var perr platformerrors.PlatformError
	if !errors.As(err, &perr) {
		return KindTransient
	}
	switch perr.Code() {
	case platformerrors.CodeRateLimit:
		return KindRateLimit
	case platformerrors.CodeNotFound:
		return KindNotFound
	case platformerrors.CodeNotImplemented:
		return KindUnsupported
	}
	if perr.Classification().IsRetryable() {
		return KindTransient
	}
	return KindFailure
}

// RetryAfter extracts the cooldown hint from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var perr platformerrors.PlatformError
	if !errors.As(err, &perr) || perr.Code() != platformerrors.CodeRateLimit {
		return 0, false
	}
	secs, ok := perr.Context()[ctxRetryAfter].(int)
	if !ok || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// ProviderOf returns the provider name attached to err, if any.
func ProviderOf(err error) string {
	var perr platformerrors.PlatformError
	if errors.As(err, &perr) {
		if name, ok := perr.Context()[ctxProvider].(string); ok {
			return name
		}
	}
	return ""
}

func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

func IsRateLimited(err error) bool { return err != nil && KindOf(err) == KindRateLimit }

// IsUnavailable reports the "no providers" / "all failed" outcome.
func IsUnavailable(err error) bool {
	return platformerrors.GetCode(err) == platformerrors.CodeUnavailable
}

// Message returns the short user-facing text for err.
func Message(err error) string {
	var perr platformerrors.PlatformError
	if errors.As(err, &perr) {
		return perr.Message()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
