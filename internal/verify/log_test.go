package verify_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncup/otpgate/internal/verify"
)

func TestLogProviderApprovesOnlyTestCodes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := verify.NewLogProvider(logger, map[string]string{"+14155552671": "424242"})

	res, err := p.IssueCode(t.Context(), "+14155552671")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, verify.StatusPending, res.Status)

	res, err = p.CheckCode(t.Context(), "+14155552671", "424242")
	require.NoError(t, err)
	assert.True(t, res.Approved())

	res, err = p.CheckCode(t.Context(), "+14155552671", "000000")
	require.NoError(t, err)
	assert.False(t, res.Approved())

	res, err = p.CheckCode(t.Context(), "+919876543210", "424242")
	require.NoError(t, err)
	assert.False(t, res.Approved())

	// Only the region is logged, never the number or the code.
	assert.NotContains(t, buf.String(), "4155552671")
	assert.NotContains(t, buf.String(), "424242")
	assert.Contains(t, buf.String(), "region=US")
}
