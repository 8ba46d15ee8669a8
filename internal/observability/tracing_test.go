package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cjerrors "crewjob/internal/errors"
)

func TestStartSpanWithNoopProvider(t *testing.T) {
	shutdown := InitTracing(false)
	require.NotNil(t, shutdown)

	ctx, span := StartSpan(context.Background(), "test.span")
	require.NotNil(t, ctx)
	RecordError(span, nil)
	RecordError(span, cjerrors.ErrPartyFull)
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}
