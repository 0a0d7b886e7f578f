package correlation_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/relialab/docpipe/internal/pkg/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure(t *testing.T) {
	assert.Equal(t, "abc-123", correlation.Ensure("abc-123"))
	assert.Equal(t, "abc-123", correlation.Ensure("  abc-123  "))

	generated := correlation.Ensure("")
	_, err := uuid.Parse(generated)
	require.NoError(t, err)

	alsoGenerated := correlation.Ensure("   ")
	assert.NotEqual(t, generated, alsoGenerated)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := correlation.WithID(context.Background(), "corr-7")
	assert.Equal(t, "corr-7", correlation.FromCtx(ctx))
	assert.Equal(t, "", correlation.FromCtx(context.Background()))
}
