package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorUnwraps(t *testing.T) {
	err := NewDomainError("Registry.AddEngine", ErrDuplicateEngine, "name: DuckDuckGo")
	assert.ErrorIs(t, err, ErrDuplicateEngine)
	assert.Contains(t, err.Error(), "Registry.AddEngine")
	assert.Contains(t, err.Error(), "DuckDuckGo")
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("Registry.Load", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Registry.Load")
}

func TestErrorCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{ErrNotFound, CodeNotFound},
		{NewDomainError("op", ErrLastEnabled, ""), CodeLastEnabled},
		{WrapOp("op", NewDomainError("inner", ErrQueryTooLong, "")), CodeQueryTooLong},
		{fmt.Errorf("something else"), CodeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorCodeOf(tc.err))
	}
}
