// internal/dvr/client_test.go
package dvr

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camkeep/camkeep/pkg/schema"
)

const channelsXML = `<?xml version="1.0" encoding="UTF-8"?>
<InputProxyChannelList>
  <InputProxyChannel>
    <id>1</id>
    <name>Camera 01</name>
    <sourceInputPortDescriptor><ipAddress>10.0.0.11</ipAddress></sourceInputPortDescriptor>
  </InputProxyChannel>
  <InputProxyChannel>
    <id>2</id>
    <name>Camera 02</name>
    <sourceInputPortDescriptor><ipAddress>10.0.0.12</ipAddress></sourceInputPortDescriptor>
  </InputProxyChannel>
</InputProxyChannelList>`

const statusXML = `<?xml version="1.0" encoding="UTF-8"?>
<InputProxyChannelStatusList>
  <InputProxyChannelStatus>
    <id>1</id>
    <online>true</online>
    <streamingProxyChannelIdList>
      <streamingProxyChannelId>101</streamingProxyChannelId>
      <streamingProxyChannelId>102</streamingProxyChannelId>
    </streamingProxyChannelIdList>
  </InputProxyChannelStatus>
  <InputProxyChannelStatus>
    <id>2</id>
    <online>false</online>
  </InputProxyChannelStatus>
</InputProxyChannelStatusList>`

func newRecorder(t *testing.T, search http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var channelFetches atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/ISAPI/ContentMgmt/InputProxy/channels", func(w http.ResponseWriter, r *http.Request) {
		channelFetches.Add(1)
		w.Write([]byte(channelsXML))
	})
	mux.HandleFunc("/ISAPI/ContentMgmt/InputProxy/channels/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(statusXML))
	})
	if search != nil {
		mux.HandleFunc("/ISAPI/ContentMgmt/search", search)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &channelFetches
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	c, err := New(Options{
		BaseURL:     srv.URL,
		Username:    "admin",
		Password:    "secret",
		CameraNames: map[string]string{"10.0.0.12": "Loading dock"},
		Location:    time.UTC,
	})
	require.NoError(t, err)
	return c
}

func TestCamerasMergesStatusAndAppliesNameOverrides(t *testing.T) {
	srv, _ := newRecorder(t, nil)
	c := newTestClient(t, srv)

	cams, err := c.Cameras(context.Background())
	require.NoError(t, err)
	require.Len(t, cams, 2)

	assert.Equal(t, schema.Camera{ID: 1, Name: "Camera 01", IPAddress: "10.0.0.11", Online: true, Channels: []int{101, 102}}, cams[0])
	assert.Equal(t, "Loading dock", cams[1].Name)
	assert.False(t, cams[1].Online)
	assert.Empty(t, cams[1].Channels)
}

func TestCamerasServedFromCacheBetweenRefreshes(t *testing.T) {
	srv, fetches := newRecorder(t, nil)
	c := newTestClient(t, srv)

	_, err := c.Cameras(context.Background())
	require.NoError(t, err)
	_, err = c.CameraByID(context.Background(), 1)
	require.NoError(t, err)
	_, err = c.Cameras(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), fetches.Load())
}

func TestCameraByIDNotFound(t *testing.T) {
	srv, _ := newRecorder(t, nil)
	c := newTestClient(t, srv)

	_, err := c.CameraByID(context.Background(), 42)
	require.ErrorIs(t, err, ErrCameraNotFound)
}

func TestSearchClampsWindowAndRewritesURI(t *testing.T) {
	srv, _ := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		var desc cmSearchDescription
		require.NoError(t, xml.NewDecoder(r.Body).Decode(&desc))
		assert.Equal(t, 101, desc.TrackID)
		assert.NotEmpty(t, desc.SearchID)

		w.Write([]byte(`<CMSearchResult>
  <responseStatus>true</responseStatus>
  <numOfMatches>1</numOfMatches>
  <matchList>
    <searchMatchItem>
      <trackID>101</trackID>
      <timeSpan>
        <startTime>2026-08-30T10:15:00Z</startTime>
        <endTime>2026-08-30T10:45:00Z</endTime>
      </timeSpan>
      <mediaSegmentDescriptor>
        <contentType>video</contentType>
        <playbackURI>rtsp://10.0.0.2/Streaming/tracks/101?starttime=x&amp;name=ch01_001&amp;size=12345</playbackURI>
      </mediaSegmentDescriptor>
    </searchMatchItem>
  </matchList>
</CMSearchResult>`))
	})
	c := newTestClient(t, srv)

	cam, err := c.CameraByID(context.Background(), 1)
	require.NoError(t, err)

	// Requested window starts before and ends after the stored footage:
	// both edges get clamped.
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	res, err := c.Search(context.Background(), cam, start, end)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC), res.StartTime)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 45, 0, 0, time.UTC), res.EndTime)
	assert.Equal(t, "rtsp://10.0.0.2/Streaming/tracks/101?starttime=20260830T101500Z", res.RTSPURI)
}

func TestSearchKeepsWindowInsideStoredFootage(t *testing.T) {
	srv, _ := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<CMSearchResult>
  <responseStatus>true</responseStatus>
  <numOfMatches>1</numOfMatches>
  <matchList>
    <searchMatchItem>
      <trackID>101</trackID>
      <timeSpan>
        <startTime>2026-08-30T00:00:00Z</startTime>
        <endTime>2026-08-30T23:59:59Z</endTime>
      </timeSpan>
      <mediaSegmentDescriptor>
        <contentType>video</contentType>
        <playbackURI>rtsp://10.0.0.2/Streaming/tracks/101</playbackURI>
      </mediaSegmentDescriptor>
    </searchMatchItem>
  </matchList>
</CMSearchResult>`))
	})
	c := newTestClient(t, srv)

	cam, err := c.CameraByID(context.Background(), 1)
	require.NoError(t, err)

	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	res, err := c.Search(context.Background(), cam, start, end)
	require.NoError(t, err)

	assert.Equal(t, start, res.StartTime)
	assert.Equal(t, end, res.EndTime)
}

func TestSearchRejectsInvertedRange(t *testing.T) {
	srv, _ := newRecorder(t, nil)
	c := newTestClient(t, srv)

	cam := schema.Camera{ID: 1, Channels: []int{101}}
	now := time.Now()
	_, err := c.Search(context.Background(), cam, now, now)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestSearchNoMatches(t *testing.T) {
	srv, _ := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<CMSearchResult><responseStatus>true</responseStatus><numOfMatches>0</numOfMatches></CMSearchResult>`))
	})
	c := newTestClient(t, srv)

	cam := schema.Camera{ID: 1, Channels: []int{101}}
	_, err := c.Search(context.Background(), cam, time.Now().Add(-time.Hour), time.Now())
	require.ErrorIs(t, err, ErrRangeNotFound)
}

func TestSearchMalformedReply(t *testing.T) {
	srv, _ := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not xml at all`))
	})
	c := newTestClient(t, srv)

	cam := schema.Camera{ID: 1, Channels: []int{101}}
	_, err := c.Search(context.Background(), cam, time.Now().Add(-time.Hour), time.Now())

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
}

func TestRecorderErrorStatus(t *testing.T) {
	srv, _ := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device busy", http.StatusServiceUnavailable)
	})
	c := newTestClient(t, srv)

	cam := schema.Camera{ID: 1, Channels: []int{101}}
	_, err := c.Search(context.Background(), cam, time.Now().Add(-time.Hour), time.Now())

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusServiceUnavailable, respErr.StatusCode)
}
