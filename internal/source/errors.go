package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
)

// statusTransport turns the HTTP statuses GitHub uses for auth, quota and
// visibility failures into tagged errors before the GraphQL client sees them
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	var mapped error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		mapped = apperrors.NewAuthError("GitHub rejected the access token", nil)
	case http.StatusForbidden, http.StatusTooManyRequests:
		mapped = apperrors.NewRateLimitedError("GitHub API rate limit exceeded", resetFromHeaders(resp.Header), nil)
	case http.StatusNotFound:
		mapped = apperrors.NewNotFoundError("GitHub resource " + req.URL.Path)
	default:
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil, mapped
}

// resetFromHeaders reads Retry-After or X-RateLimit-Reset
func resetFromHeaders(h http.Header) *time.Time {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			t := time.Now().Add(time.Duration(secs) * time.Second)
			return &t
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(unix, 0)
			return &t
		}
	}
	return nil
}

// classify maps any failure of a GitHub call to a tagged error
func classify(err error, repo domain.RepositoryIdentifier, what string) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Kind == apperrors.KindNotFound {
			return apperrors.NewNotFoundError("repository " + repo.String())
		}
		return err
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		reset := rateErr.Rate.Reset.Time
		return apperrors.NewRateLimitedError("GitHub API rate limit exceeded", &reset, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var reset *time.Time
		if abuseErr.RetryAfter != nil {
			t := time.Now().Add(*abuseErr.RetryAfter)
			reset = &t
		}
		return apperrors.NewRateLimitedError("GitHub secondary rate limit exceeded", reset, err)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return apperrors.NewAuthError("GitHub rejected the access token", err)
		case http.StatusForbidden, http.StatusTooManyRequests:
			return apperrors.NewRateLimitedError("GitHub API rate limit exceeded", resetFromHeaders(respErr.Response.Header), err)
		case http.StatusNotFound:
			return apperrors.NewNotFoundError("repository " + repo.String())
		}
	}

	// GraphQL errors arrive with a 200 status and are only described by their message
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Could not resolve to a Repository"):
		return apperrors.NewNotFoundError("repository " + repo.String())
	case strings.Contains(msg, "API rate limit exceeded"), strings.Contains(msg, "RATE_LIMITED"):
		return apperrors.NewRateLimitedError("GitHub API rate limit exceeded", nil, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTransientError(what+" interrupted", err)
	}
	return apperrors.NewTransientError(what+" failed", err)
}
