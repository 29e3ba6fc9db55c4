package apitypes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Tag]int{
		TagNotFound:          404,
		TagValidation:        400,
		TagClaimConflict:     400,
		TagUnauthorized:      401,
		TagForbidden:         403,
		TagServiceUnavailable: 503,
		TagDatabase:          500,
		TagIO:                500,
		TagInternalError:     500,
		Tag("unknown"):       500,
	}
	for tag, want := range cases {
		require.Equal(t, want, HTTPStatus(tag), "tag=%s", tag)
	}
}

func TestPublicMessageRedactsInternal(t *testing.T) {
	err := Wrap(TagDatabase, "disk full", errors.New("ENOSPC"))
	require.Equal(t, "Internal server error", PublicMessage(err))

	nf := NotFound("Task", "tx-deadbeef")
	require.Equal(t, `Task "tx-deadbeef" not found`, PublicMessage(nf))
}

func TestPublicMessageUntaggedError(t *testing.T) {
	require.Equal(t, "Internal server error", PublicMessage(errors.New("boom")))
}

func TestTagOfStringWrappedErrorIsInternal(t *testing.T) {
	base := Validation("bad input")
	wrapped := errors.New("context: " + base.Error())
	require.Equal(t, TagInternalError, TagOf(wrapped))
	require.Equal(t, TagValidation, TagOf(base))
}
