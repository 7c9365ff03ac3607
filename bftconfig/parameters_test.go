package bftconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultParametersValidate(t *testing.T) {
	require.True(t, Default().Validate().OK())
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	p := Parameters{}
	res := p.Validate()
	require.False(t, res.OK())
	require.Len(t, res.Errors, 4, "every invalid field must be reported, not just the first")

	fields := make(map[string]bool, len(res.Errors))
	for _, e := range res.Errors {
		fields[e.Field] = true
	}
	require.True(t, fields["timeout_delay_ms"])
	require.True(t, fields["sync_retry_delay_ms"])
	require.True(t, fields["max_payload_size"])
	require.True(t, fields["queue_capacity"])
}

func TestDurationHelpersConvertMillisecondFields(t *testing.T) {
	p := Parameters{TimeoutDelayMs: 1500, SyncRetryDelayMs: 250, MinBlockDelayMs: 10}
	require.Equal(t, int64(1500_000_000), p.TimeoutDelay().Nanoseconds())
	require.Equal(t, int64(250_000_000), p.SyncRetryDelay().Nanoseconds())
	require.Equal(t, int64(10_000_000), p.MinBlockDelay().Nanoseconds())
}

func TestLoadParametersRoundTripsYAMLAndAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parameters.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout_delay_ms: 9000\nmax_payload_size: 2048\n"), 0o600))

	p, err := LoadParameters(path)
	require.NoError(t, err)
	require.Equal(t, uint64(9000), p.TimeoutDelayMs)
	require.Equal(t, uint64(2048), p.MaxPayloadSize)
	// Fields absent from the file keep Default()'s values.
	require.Equal(t, Default().SyncRetryDelayMs, p.SyncRetryDelayMs)
	require.Equal(t, Default().QueueCapacity, p.QueueCapacity)
}

func TestLoadParametersRejectsMissingFile(t *testing.T) {
	_, err := LoadParameters(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadParametersSurfacesValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parameters.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue_capacity: 0\n"), 0o600))

	_, err := LoadParameters(path)
	require.Error(t, err)
	var res ValidationResult
	require.ErrorAs(t, err, &res)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "queue_capacity", res.Errors[0].Field)
}
