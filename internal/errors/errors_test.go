package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		CodeUnknown,
		CodeValidation,
		CodeConfiguration,
		CodeCanceled,
		CodeNetwork,
		CodeMalformedResponse,
		CodeAPIStatus,
		CodeConflict,
		CodeNotFound,
	}

	for _, code := range codes {
		if string(code) == "" {
			t.Errorf("Error code %v should not be empty", code)
		}
	}
}

func TestClientError(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := New(CodeValidation, "domain is required")
		assert.Equal(t, CodeValidation, err.Code)
		assert.Equal(t, "[VALIDATION] domain is required", err.Error())
		assert.NotNil(t, err.Context)
	})

	t.Run("error with operation and cause", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := ErrNetwork("list_scans", cause)
		assert.Equal(t, "[NETWORK] request failed (operation: list_scans): connection refused", err.Error())
		assert.Same(t, cause, errors.Unwrap(err))
	})

	t.Run("context is attached", func(t *testing.T) {
		err := ErrValidation("domain", "domain is required")
		assert.Equal(t, "domain", err.Context["field"])
	})
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		network    bool
		malformed  bool
	}{
		{
			name:       "validation",
			err:        ErrValidation("scan_id", "select a scan first"),
			validation: true,
		},
		{
			name:    "network wrapped by fmt",
			err:     fmt.Errorf("refresh: %w", ErrNetwork("stats", errors.New("timeout"))),
			network: true,
		},
		{
			name:      "malformed",
			err:       ErrMalformed("scan", errors.New("missing id")),
			malformed: true,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
		},
		{
			name: "nil",
			err:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.network, IsNetwork(tt.err))
			assert.Equal(t, tt.malformed, IsMalformed(tt.err))
		})
	}
}

func TestGetCodeUnknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, GetCode(errors.New("x")))
	assert.Equal(t, CodeConfiguration, GetCode(ErrConfigInvalid("api.base_url", "")))
}
