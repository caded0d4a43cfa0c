package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestErrorRendering(t *testing.T) {
	assert.Equal(t, "denied: non_owner", Denied("non_owner").Error())
	assert.Equal(t, "not_found", (&Error{Kind: KindNotFound}).Error())
	assert.Equal(t, "unauthenticated: unauthenticated", Unauthenticated().Error())
	assert.Equal(t, "invalid_or_expired: invalid_or_expired", InvalidOrExpired().Error())
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Denied("last_owner"))

	assert.True(t, errors.Is(err, ErrDenied))
	assert.True(t, errors.Is(err, Denied("last_owner")))
	assert.False(t, errors.Is(err, Denied("non_owner")))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestKindAndReasonOf(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		reason string
	}{
		{NotFound("workspace"), KindNotFound, "workspace"},
		{fmt.Errorf("ctx: %w", Conflict("already_member")), KindConflict, "already_member"},
		{&Error{Kind: KindInvalidInput}, KindInvalidInput, "invalid_input"},
		{errors.New("boom"), KindInternal, "internal"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err), tt.err.Error())
		assert.Equal(t, tt.reason, ReasonOf(tt.err), tt.err.Error())
	}
}

func TestCauseIsKeptButNotRendered(t *testing.T) {
	cause := errors.New("pq: relation \"secret_table\" does not exist")
	err := Internal(cause)

	assert.Equal(t, "internal: internal", err.Error())
	assert.NotContains(t, err.Error(), "secret_table")
	assert.Same(t, cause, err.Cause())
	assert.True(t, errors.Is(err, cause))
}

func TestFromStorage(t *testing.T) {
	assert.NoError(t, FromStorage(nil, "workspace"))

	t.Run("record not found", func(t *testing.T) {
		err := FromStorage(gorm.ErrRecordNotFound, "invitation")
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.Equal(t, "invitation", ReasonOf(err))
	})

	t.Run("duplicate key", func(t *testing.T) {
		err := FromStorage(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), "membership")
		assert.Equal(t, KindConflict, KindOf(err))
		assert.Equal(t, "duplicate", ReasonOf(err))
	})

	t.Run("classified passes through", func(t *testing.T) {
		orig := Denied("insufficient_role")
		err := FromStorage(fmt.Errorf("tx: %w", orig), "workspace")
		var ae *Error
		require.True(t, errors.As(err, &ae))
		assert.Same(t, orig, ae)
	})

	t.Run("anything else is internal", func(t *testing.T) {
		err := FromStorage(errors.New("connection reset"), "workspace")
		assert.Equal(t, KindInternal, KindOf(err))
		assert.NotContains(t, err.Error(), "connection reset")
	})
}
