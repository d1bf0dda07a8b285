package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neutron/internal/errors"
	"neutron/internal/target"
)

type nopConn struct{}

func (nopConn) Execute(context.Context, string) (*Output, error) { return &Output{}, nil }
func (nopConn) Close() error                                     { return nil }

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	reg := Registry{
		target.KindSSH: Func(func(context.Context, target.Target, target.Credential) (Conn, error) {
			return nopConn{}, nil
		}),
	}

	tr, err := reg.Lookup(target.KindSSH)
	require.NoError(t, err)
	conn, err := tr.Connect(context.Background(), target.Target{Host: "a", Port: 22}, target.Credential{})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = reg.Lookup(target.KindWinRM)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
	assert.ErrorContains(t, err, "no transport registered for winrm")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want errors.ErrorType
	}{
		{name: "deadline", err: fmt.Errorf("dial: %w", context.DeadlineExceeded), want: errors.TimeoutErrorType},
		{name: "auth text", err: stderrors.New("ssh: unable to authenticate"), want: errors.AuthErrorType},
		{name: "refused", err: stderrors.New("dial tcp: connection refused"), want: errors.ConnectErrorType},
		{name: "unknown uses fallback", err: stderrors.New("weird"), want: errors.ProtocolErrorType},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(tc.err, errors.NewProtocolError, "connect")
			assert.Equal(t, tc.want, errors.TypeOf(err))
			assert.ErrorIs(t, err, tc.err)
		})
	}

	assert.NoError(t, Classify(nil, errors.NewProtocolError, "x"))
}
