package discovery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func staticMethod(devices ...Device) method {
	return func(ctx context.Context, add func(ip, name string)) error {
		for _, d := range devices {
			add(d.IP, d.Name)
		}
		return nil
	}
}

func failingMethod(ctx context.Context, add func(ip, name string)) error {
	return errors.New("network unreachable")
}

func TestScanner_CollectDedupesAndSorts(t *testing.T) {
	s := NewScanner(zap.NewNop())
	fallbackCalled := false
	s.hueMethods = []method{
		staticMethod(Device{"192.168.1.20", "Hue Bridge (a1b2c3)"}),
		failingMethod,
		staticMethod(Device{"192.168.1.20", "Hue Bridge"}, Device{"192.168.1.3", "Hue Bridge"}),
	}
	s.hueFallback = func(ctx context.Context, add func(ip, name string)) error {
		fallbackCalled = true
		return nil
	}

	devices, err := s.DiscoverHueBridges(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "192.168.1.20", devices[0].IP)
	assert.Equal(t, "192.168.1.3", devices[1].IP)
	assert.False(t, fallbackCalled)
}

func TestScanner_FallbackWhenNothingAnswers(t *testing.T) {
	s := NewScanner(zap.NewNop())
	s.elgatoMethods = []method{failingMethod, staticMethod()}

	devices, err := s.collect(context.Background(), s.elgatoMethods, staticMethod(Device{"10.0.0.9", "Key Light"}))
	require.NoError(t, err)
	assert.Equal(t, []Device{{"10.0.0.9", "Key Light"}}, devices)
}

func TestScanner_CollectCancelled(t *testing.T) {
	s := NewScanner(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocking := func(ctx context.Context, add func(ip, name string)) error {
		<-ctx.Done()
		return ctx.Err()
	}
	_, err := s.collect(ctx, []method{blocking}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_HueViaCloud(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(limited.Close)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id":"001788fffe4a1b2c","internalipaddress":"192.168.178.87","port":443},
			{"id":"x","internalipaddress":""}
		]`)
	}))
	t.Cleanup(ok.Close)

	s := NewScanner(zap.NewNop())
	s.CloudURLs = []string{limited.URL, ok.URL}

	var got []Device
	err := s.hueViaCloud(context.Background(), func(ip, name string) {
		got = append(got, Device{ip, name})
	})
	require.NoError(t, err)
	assert.Equal(t, []Device{{"192.168.178.87", "Hue Bridge (4a1b2c)"}}, got)
}

func TestScanner_HueViaCloudAllFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	t.Cleanup(bad.Close)

	s := NewScanner(zap.NewNop())
	s.CloudURLs = []string{bad.URL}

	err := s.hueViaCloud(context.Background(), func(ip, name string) {
		t.Fatalf("unexpected bridge %s", ip)
	})
	assert.Error(t, err)
}

func TestElgatoName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/elgato/accessory-info" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"productName":"Elgato Key Light","displayName":"Desk"}`)
	}))
	t.Cleanup(srv.Close)

	assert.Equal(t, "Desk", elgatoName(context.Background(), srv.Client(), srv.URL+"/elgato/accessory-info"))
	assert.Empty(t, elgatoName(context.Background(), srv.Client(), srv.URL+"/missing"))
}

func TestHueBridgeID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/0/config" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"name":"Philips hue","bridgeid":"001788FFFE4A1B2C"}`)
	}))
	t.Cleanup(srv.Close)

	assert.Equal(t, "001788FFFE4A1B2C", hueBridgeID(context.Background(), srv.Client(), srv.URL+"/api/0/config"))
	assert.Empty(t, hueBridgeID(context.Background(), srv.Client(), srv.URL+"/other"))
}

func TestIsHueSSDPResponse(t *testing.T) {
	assert.True(t, isHueSSDPResponse([]byte("HTTP/1.1 200 OK\r\nSERVER: Hue/1.0 UPnP/1.0 IpBridge/1.56.0\r\n")))
	assert.False(t, isHueSSDPResponse([]byte("HTTP/1.1 200 OK\r\nSERVER: Linux UPnP/1.0 Sonos/70.3\r\n")))
}
