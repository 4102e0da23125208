package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWOLClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
	calls    atomic.Int32
}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	m.calls.Add(1)
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return okResponse(), nil
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

// downFor answers with a connection error for the first n requests.
func downFor(n int32) *mockHTTPClient {
	var count atomic.Int32
	return &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			if count.Add(1) <= n {
				return nil, errors.New("connection refused")
			}
			return okResponse(), nil
		},
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func nasConfig() models.WOLConfig {
	return models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://nas.local:5005/",
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestWake_NoPollURL(t *testing.T) {
	var capturedMAC net.HardwareAddr
	var capturedBroadcastIP string

	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			capturedMAC = mac
			capturedBroadcastIP = broadcastIP
			return nil
		},
	}
	svc := NewWithClients(testLogger(), wolClient, nil)

	cfg := nasConfig()
	cfg.PollURL = ""
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.NoError(t, result.Error)

	expectedMAC, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, expectedMAC, capturedMAC)
	assert.Equal(t, "192.168.1.255", capturedBroadcastIP)
}

func TestWake_AlreadyAwakeSkipsPacket(t *testing.T) {
	wolClient := &mockWOLClient{}
	svc := NewWithClients(testLogger(), wolClient, &mockHTTPClient{})

	result, err := svc.Wake(context.Background(), nasConfig())

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.NoError(t, result.Error)
	assert.Zero(t, wolClient.calls.Load())
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockHTTPClient{})

	cfg := nasConfig()
	cfg.MACAddress = "invalid-mac"
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(string, net.HardwareAddr) error {
			return errors.New("network error")
		},
	}
	svc := NewWithClients(testLogger(), wolClient, downFor(1))

	result, err := svc.Wake(context.Background(), nasConfig())

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "network error")
}

func TestWake_HostComesUp(t *testing.T) {
	wolClient := &mockWOLClient{}
	svc := NewWithClients(testLogger(), wolClient, downFor(3))

	result, err := svc.Wake(context.Background(), nasConfig())

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.NoError(t, result.Error)
	assert.Equal(t, int32(1), wolClient.calls.Load())
}

func TestWake_Timeout(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, downFor(1<<30))

	cfg := nasConfig()
	cfg.Timeout = 50 * time.Millisecond
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timeout waiting for backend host")
}

func TestWake_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var count atomic.Int32
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			if count.Add(1) == 2 {
				cancel()
			}
			return nil, errors.New("connection refused")
		},
	}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, httpClient)

	result, err := svc.Wake(ctx, nasConfig())

	require.NoError(t, err)
	assert.False(t, result.TargetReady)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestWake_StabilizeWait(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, downFor(1))

	cfg := nasConfig()
	cfg.StabilizeWait = 60 * time.Millisecond
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.GreaterOrEqual(t, result.WaitDuration, 60*time.Millisecond)
}
