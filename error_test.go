package bdispatch_test

import (
	"fmt"
	"testing"

	"github.com/advdv/bdispatch"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorCode(t *testing.T) {
	err1 := bdispatch.NewError(bdispatch.CodeNotImplemented, bdispatch.KindResolution, errors.New("foo"))
	require.Equal(t, bdispatch.Code(501), err1.Code())
	require.Equal(t, bdispatch.CodeNotImplemented, bdispatch.CodeOf(err1))
	require.Equal(t, bdispatch.KindResolution, bdispatch.KindOf(err1))
	require.Equal(t, "Not Implemented: foo", err1.Error())
	require.Equal(t, "No Handler Implemented: foo", err1.Message())

	require.Equal(t, bdispatch.CodeUnknown, bdispatch.CodeOf(errors.New("bar")))
	require.Equal(t, bdispatch.KindUnknown, bdispatch.KindOf(errors.New("bar")))
	require.Equal(t, "Unknown: rab", bdispatch.NewError(900, bdispatch.KindUnknown, errors.New("rab")).Error())
}

func TestErrorWrapped(t *testing.T) {
	err1 := bdispatch.NewError(bdispatch.CodeInternalServerError, bdispatch.KindInvocation, errors.New("boom"))
	wrapped := fmt.Errorf("handler failed: %w", err1)

	require.Equal(t, bdispatch.CodeInternalServerError, bdispatch.CodeOf(wrapped))
	require.Equal(t, bdispatch.KindInvocation, bdispatch.KindOf(wrapped))
	require.Equal(t, "boom", err1.Message())
	require.Equal(t, "invocation", bdispatch.KindInvocation.String())
	require.Equal(t, "unknown", bdispatch.Kind(99).String())
}
