package channels

import (
	"errors"
	"testing"
)

func TestError_IsRetryable(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want bool
	}{
		{ErrCodeRateLimit, true},
		{ErrCodeTimeout, true},
		{ErrCodeUnavailable, true},
		{ErrCodeConnection, true},
		{ErrCodeAuthentication, false},
		{ErrCodeInvalidInput, false},
	}
	for _, c := range cases {
		err := NewError(c.code, "boom", nil)
		if got := err.IsRetryable(); got != c.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestGetErrorCode_NonChannelErrorDefaultsToInternal(t *testing.T) {
	if code := GetErrorCode(errors.New("plain")); code != ErrCodeInternal {
		t.Fatalf("GetErrorCode = %s, want %s", code, ErrCodeInternal)
	}
}

func TestError_UnwrapAndWithContext(t *testing.T) {
	cause := errors.New("network down")
	err := ErrConnection("dial failed", cause).WithContext("host", "api.example.com")

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through to the wrapped cause")
	}
	if err.Context["host"] != "api.example.com" {
		t.Fatalf("Context = %#v, missing host", err.Context)
	}
}
