package drive

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/skysync/skysync/internal/utils"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tc := range cases {
		err := &googleapi.Error{Code: tc.code}
		if got := isRetryable(err); got != tc.want {
			t.Errorf("isRetryable(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if isRetryable(errors.New("plain")) {
		t.Error("plain errors must not be retryable")
	}
}

func TestCalculateBackoffHonorsRetryAfter(t *testing.T) {
	err := &googleapi.Error{
		Code:   429,
		Header: http.Header{"Retry-After": []string{"2"}},
	}
	if got := calculateBackoff(500*time.Millisecond, 0, err); got != 2*time.Second {
		t.Fatalf("backoff = %v, want 2s from Retry-After", got)
	}

	err.Header.Set("Retry-After", "120")
	if got := calculateBackoff(500*time.Millisecond, 0, err); got != maxRetryDelay {
		t.Fatalf("backoff = %v, want capped at %v", got, maxRetryDelay)
	}
}

func TestCalculateBackoffGrowsWithAttempts(t *testing.T) {
	base := 100 * time.Millisecond
	err := &googleapi.Error{Code: 503}
	small := calculateBackoff(base, 0, err)
	large := calculateBackoff(base, 4, err)
	if large <= small {
		t.Fatalf("backoff must grow: attempt0=%v attempt4=%v", small, large)
	}
	if large > maxRetryDelay+maxRetryDelay/4 {
		t.Fatalf("backoff %v beyond cap", large)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"rate limited", &googleapi.Error{Code: 429}, utils.ErrCodeRateLimited},
		{"not found", &googleapi.Error{Code: 404}, utils.ErrCodeMetadataNotFound},
		{"gone", &googleapi.Error{Code: 410}, utils.ErrCodeMetadataNotFound},
		{"server error", &googleapi.Error{Code: 503}, utils.ErrCodeNetworkError},
		{"plain", errors.New("conn reset"), utils.ErrCodeNetworkError},
	}
	for _, tc := range cases {
		err := classifyError("files.get", tc.err)
		if !utils.IsCode(err, tc.code) {
			t.Errorf("%s: code = %s, want %s", tc.name, utils.CodeOf(err), tc.code)
		}
		if !errors.Is(err, tc.err) {
			t.Errorf("%s: cause must stay reachable through the chain", tc.name)
		}
	}
}

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery(`it's a \test`); got != `it\'s a \\test` {
		t.Fatalf("escapeQuery = %q", got)
	}
}
