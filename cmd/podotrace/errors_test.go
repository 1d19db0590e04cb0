package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/podotrace/podotrace/internal/link"
	"github.com/podotrace/podotrace/internal/session"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"unsupported", link.ErrUnsupported, "--demo"},
		{"permission denied", link.ErrPermissionDenied, "permission"},
		{"wrapped service not found", fmt.Errorf("connect: %w", link.ErrServiceNotFound), "pressure service"},
		{"connection lost", link.ErrConnectionLost, "partial data"},
		{"link down", session.ErrLinkDown, "--demo"},
		{"empty session", session.ErrEmptySession, "no data"},
		{"unknown passthrough", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
