package log_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/mppay/libs/log"
	"github.com/celestiaorg/mppay/types"
)

func TestTMLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewTMLogger(&buf).With("module", "mpp")

	var hash types.PaymentHash
	hash[0] = 0xff
	logger.Info("Holding part", "payment_hash", hash, "parts", 2, "raw", []byte{0xab})

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "I["), line)
	assert.Contains(t, line, "Holding part")
	assert.Contains(t, line, "module=mpp")
	assert.Contains(t, line, "payment_hash="+hash.String())
	assert.Contains(t, line, "parts=2")
	assert.Contains(t, line, "raw=AB")
}

func TestFilter(t *testing.T) {
	var buf bytes.Buffer
	option, err := log.AllowLevel("info")
	require.NoError(t, err)
	logger := log.NewFilter(log.NewTMLogger(&buf), option)

	logger.Debug("hidden")
	require.Zero(t, buf.Len())

	logger.With("module", "plugin").Info("shown")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	logger.Error("failure", "err", "boom")
	assert.Contains(t, buf.String(), "err=boom")

	_, err = log.AllowLevel("trace")
	require.Error(t, err)

	none, err := log.AllowLevel("none")
	require.NoError(t, err)
	buf.Reset()
	log.NewFilter(log.NewTMLogger(&buf), none).Error("dropped")
	require.Zero(t, buf.Len())
}
