package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testConfig() Config {
	return Config{
		ServiceName:      "web",
		StatusCheckName:  "app status",
		RetryDelay:       5 * time.Millisecond,
		FallbackInterval: 5 * time.Millisecond,
		WaitTime:         5 * time.Millisecond,
		Extractors:       DefaultExtractors(),
	}
}

func payloadWithStatus(index uint64, status string) ([]interface{}, ConsulHeaders) {
	entry := validEntry()
	checks := entry["Checks"].([]interface{})
	checks[1].(map[string]interface{})["Output"] = fmt.Sprintf(`HTTP GET http://10.0.0.1:8080/status: 200 OK Output: {"data":{"status":%q}}`, status)
	return []interface{}{entry}, ConsulHeaders{LastIndex: index}
}

func TestMonitor_StartServiceReturnsInitialSet(t *testing.T) {
	client := &fakeRegistryClient{fn: func(call int) (interface{}, ConsulHeaders, error) {
		raw, headers := payloadWithStatus(1, statusOK)
		return raw, headers, nil
	}}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)

	set, err := m.StartService(context.Background())
	require.NoError(t, err)
	require.Len(t, set.Healthy(), 1)

	m.StopService()
}

func TestMonitor_StartServiceTwiceFails(t *testing.T) {
	client := &fakeRegistryClient{fn: func(call int) (interface{}, ConsulHeaders, error) {
		raw, headers := payloadWithStatus(1, statusOK)
		return raw, headers, nil
	}}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)

	_, err = m.StartService(context.Background())
	require.NoError(t, err)

	_, err = m.StartService(context.Background())
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	m.StopService()
}

func TestMonitor_GettersBeforeStartFail(t *testing.T) {
	client := &fakeRegistryClient{}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)

	_, err = m.GetInstances()
	require.ErrorIs(t, err, ErrNotInitialized)
	require.False(t, m.IsInitialized())
	require.False(t, m.IsWatchHealthy())

	_, err = m.GetUpdateTime()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestMonitor_StopServiceBeforeStartIsNoop(t *testing.T) {
	client := &fakeRegistryClient{}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)
	require.NotPanics(t, func() { m.StopService() })
}

func TestMonitor_StopServiceIsIdempotent(t *testing.T) {
	client := &fakeRegistryClient{fn: func(call int) (interface{}, ConsulHeaders, error) {
		raw, headers := payloadWithStatus(1, statusOK)
		return raw, headers, nil
	}}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)
	_, err = m.StartService(context.Background())
	require.NoError(t, err)

	m.StopService()
	require.NotPanics(t, func() { m.StopService() })
}

func TestMonitor_StartServiceAfterStopSucceeds(t *testing.T) {
	client := &fakeRegistryClient{fn: func(call int) (interface{}, ConsulHeaders, error) {
		raw, headers := payloadWithStatus(1, statusOK)
		return raw, headers, nil
	}}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)

	_, err = m.StartService(context.Background())
	require.NoError(t, err)
	m.StopService()

	_, err = m.StartService(context.Background())
	require.NoError(t, err)
	m.StopService()
}

func TestMonitor_SubscriberReceivesChangedOnSubsequentPayload(t *testing.T) {
	client := &fakeRegistryClient{fn: func(call int) (interface{}, ConsulHeaders, error) {
		status := statusOK
		if call > 0 {
			status = statusMaintenance
		}
		raw, headers := payloadWithStatus(uint64(call+1), status)
		return raw, headers, nil
	}}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)

	changed := make(chan *InstanceSet, 8)
	m.Subscribe(SubscriberFuncs{OnChanged: func(set *InstanceSet) { changed <- set }})

	_, err = m.StartService(context.Background())
	require.NoError(t, err)

	select {
	case set := <-changed:
		require.Len(t, set.Healthy(), 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial changed event")
	}

	select {
	case set := <-changed:
		require.Len(t, set.OnMaintenance(), 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second changed event")
	}

	m.StopService()
}

func TestMonitor_UnhealthyThenHealthyOnTransportBlip(t *testing.T) {
	client := &fakeRegistryClient{fn: func(call int) (interface{}, ConsulHeaders, error) {
		if call == 1 {
			return nil, ConsulHeaders{}, fmt.Errorf("transient")
		}
		raw, headers := payloadWithStatus(uint64(call+1), statusOK)
		return raw, headers, nil
	}}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)

	unhealthy := make(chan struct{}, 4)
	healthy := make(chan struct{}, 4)
	m.Subscribe(SubscriberFuncs{
		OnUnhealthy: func() { unhealthy <- struct{}{} },
		OnHealthy:   func() { healthy <- struct{}{} },
	})

	_, err = m.StartService(context.Background())
	require.NoError(t, err)

	select {
	case <-unhealthy:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unhealthy transition")
	}
	select {
	case <-healthy:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for healthy transition")
	}

	m.StopService()
}

func TestMonitor_NoGoroutineLeakAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeRegistryClient{fn: func(call int) (interface{}, ConsulHeaders, error) {
		raw, headers := payloadWithStatus(uint64(call+1), statusOK)
		return raw, headers, nil
	}}
	m, err := NewMonitor(client, testConfig())
	require.NoError(t, err)

	_, err = m.StartService(context.Background())
	require.NoError(t, err)
	m.StopService()
}
