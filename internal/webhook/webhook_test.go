package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browseragent/taskqueue/internal/logger"
)

func TestIsBlockedHost(t *testing.T) {
	blocked := []string{"127.0.0.1", "localhost", "10.0.0.5", "192.168.1.1", "169.254.1.1", "svc.internal", "thing.local", "0.0.0.0"}
	for _, h := range blocked {
		assert.True(t, IsBlockedHost(h), "expected %q to be blocked", h)
	}
}

func TestIsBlockedHost_PublicIPAllowed(t *testing.T) {
	assert.False(t, IsBlockedHost("8.8.8.8"))
}

func TestSend_RejectsBlockedHost(t *testing.T) {
	n := New(time.Second, logger.New())
	err := n.Send(context.Background(), "http://127.0.0.1:9999/hook", Payload{TaskID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedHost)
}

func TestSend_RejectsNonHTTPScheme(t *testing.T) {
	n := New(time.Second, logger.New())
	err := n.Send(context.Background(), "file:///etc/passwd", Payload{TaskID: "t1"})
	require.Error(t, err)
}

func TestSend_RejectsInternalSuffixHost(t *testing.T) {
	n := New(time.Second, logger.New())
	err := n.Send(context.Background(), "http://svc.internal/hook", Payload{TaskID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedHost)
}
