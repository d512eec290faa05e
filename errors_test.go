package sfnlocal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatesErrorWrapping(t *testing.T) {
	err := NewStatesError("CustomError", "something broke")
	require.Equal(t, "CustomError: something broke", err.Error())
	require.Nil(t, err.Unwrap())

	bare := NewStatesError(ErrStatesTimeout, "")
	require.Equal(t, ErrStatesTimeout, bare.Error())

	original := errors.New("connection refused")
	wrapped := &StatesError{Name: ErrStatesTaskFailed, Cause: original.Error(), Wrapped: original}
	require.True(t, errors.Is(wrapped, original))

	var sErr *StatesError
	require.True(t, errors.As(wrapped, &sErr))
	require.Equal(t, ErrStatesTaskFailed, sErr.Name)
}

func TestClassifyError(t *testing.T) {
	statesErr := NewStatesError("MyError", "cause")
	require.Equal(t, statesErr, ClassifyError(statesErr))

	generic := errors.New("boom")
	classified := ClassifyError(generic)
	require.Equal(t, ErrStatesTaskFailed, classified.Name)
	require.Equal(t, "boom", classified.Cause)
	require.True(t, errors.Is(classified, generic))
}

func TestMatchesErrorName(t *testing.T) {
	taskErr := NewStatesError("Lambda.ServiceException", "rate exceeded")
	timeoutErr := NewStatesError(ErrStatesTimeout, "too slow")
	fatalErr := NewFatalError(ErrStatesRuntime, "missing state")

	// States.ALL matches anything non-fatal.
	require.True(t, MatchesErrorName(taskErr, ErrStatesAll))
	require.True(t, MatchesErrorName(timeoutErr, ErrStatesAll))
	require.False(t, MatchesErrorName(fatalErr, ErrStatesAll))

	// States.TaskFailed matches any non-timeout failure.
	require.True(t, MatchesErrorName(taskErr, ErrStatesTaskFailed))
	require.False(t, MatchesErrorName(timeoutErr, ErrStatesTaskFailed))

	// Exact names.
	require.True(t, MatchesErrorName(taskErr, "Lambda.ServiceException"))
	require.False(t, MatchesErrorName(taskErr, "Lambda.Unknown"))

	require.True(t, matchErrorNames(taskErr, []string{"Other", "Lambda.ServiceException"}))
	require.False(t, matchErrorNames(taskErr, []string{"Other"}))
}

func TestErrorOutputShape(t *testing.T) {
	err := NewStatesError("OrderRejected", "out of stock")
	require.Equal(t, map[string]any{
		"Error": "OrderRejected",
		"Cause": "out of stock",
	}, err.ToErrorOutput())
}

func TestIsDefinitionError(t *testing.T) {
	require.True(t, IsDefinitionError(NewFatalError(ErrStatesRuntime, "bad")))
	require.False(t, IsDefinitionError(NewStatesError(ErrStatesTaskFailed, "bad")))
	require.False(t, IsDefinitionError(errors.New("plain")))
}
