package errs

import (
	"errors"
	"fmt"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantKind Kind
	}{
		{
			name:     "plain error",
			err:      errors.New("boom"),
			wantKind: KindUnknown,
		},
		{
			name:     "call error",
			err:      New(KindTransportFatal, errors.New("tls")),
			wantKind: KindTransportFatal,
		},
		{
			name:     "wrapped call error",
			err:      fmt.Errorf("outer: %w", Application(500, []byte("boom"))),
			wantKind: KindApplicationFailure,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantKind, KindOf(tc.err))
		})
	}
}

func TestCallError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := New(KindTransportTransient, cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, err.Kind.Retryable())
	assert.Equal(t, "svccall: TransportTransient: connection reset by peer", err.Error())

	app := Application(404, nil)
	assert.False(t, app.Kind.Retryable())
	assert.Equal(t, "svccall: ApplicationFailure (status 404): status 404", app.Error())
}
