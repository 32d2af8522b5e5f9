// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberd/memberd/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("MAIL_DELIVERY_FAILED").
		With("purpose", "verification").
		Errorf("dispatch failed")

	errutil.LogError(logger, "email dispatch failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "email dispatch failed", logEntry["msg"])
	assert.Equal(t, "MAIL_DELIVERY_FAILED", logEntry["code"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := errors.New("standard error")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
}

func TestLogError_OopsWithoutCode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.With("user_id", "alice").Errorf("lookup failed")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.NotContains(t, logEntry, "code")
	assert.Contains(t, logEntry, "context")
}
