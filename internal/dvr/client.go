// internal/dvr/client.go
package dvr

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camkeep/camkeep/pkg/schema"
)

// cameraRefreshInterval bounds how often the channel list is fetched from
// the recorder. Lookups between refreshes are served from the cache.
const cameraRefreshInterval = 15 * time.Minute

// searchClockLayout is how the recorder stamps search results. The trailing
// Z is a lie: the timestamps are in the recorder's local time.
const searchClockLayout = "2006-01-02T15:04:05Z"

var (
	// ErrCameraNotFound is returned when no channel matches the camera id.
	ErrCameraNotFound = errors.New("camera not found")
	// ErrInvalidRange is returned when the requested end is not after the start.
	ErrInvalidRange = errors.New("invalid time range")
	// ErrRangeNotFound is returned when the recorder holds no footage for
	// the requested window.
	ErrRangeNotFound = errors.New("no recordings in range")
)

// ResponseError reports a reply from the recorder that could not be used.
type ResponseError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *ResponseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dvr: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("dvr: %s: %s", e.Op, e.Detail)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the recorder's ISAPI root, e.g. http://10.0.0.2.
	BaseURL  string
	Username string
	Password string
	// CameraNames overrides camera names keyed by source IP address.
	CameraNames map[string]string
	// Location is the timezone of the recorder's clock. Defaults to the
	// local timezone.
	Location   *time.Location
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to a Hikvision recorder over ISAPI. It caches the channel
// list and is safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	names    map[string]string
	loc      *time.Location
	http     *http.Client
	logger   *slog.Logger

	mu          sync.Mutex
	cameras     map[int]schema.Camera
	lastRefresh time.Time
}

// New validates the options and returns a ready client. No request is made
// until the first lookup.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("dvr: base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  opts.BaseURL,
		username: opts.Username,
		password: opts.Password,
		names:    opts.CameraNames,
		loc:      loc,
		http:     httpClient,
		logger:   logger,
		cameras:  make(map[int]schema.Camera),
	}, nil
}

// Cameras returns the recorder's input channels, refreshing the cache when
// it is older than cameraRefreshInterval.
func (c *Client) Cameras(ctx context.Context) ([]schema.Camera, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}

	cams := make([]schema.Camera, 0, len(c.cameras))
	for _, cam := range c.cameras {
		cams = append(cams, cam)
	}
	sort.Slice(cams, func(i, j int) bool { return cams[i].ID < cams[j].ID })
	return cams, nil
}

// CameraByID resolves one camera or returns ErrCameraNotFound.
func (c *Client) CameraByID(ctx context.Context, id int) (schema.Camera, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(ctx); err != nil {
		return schema.Camera{}, err
	}
	cam, ok := c.cameras[id]
	if !ok {
		return schema.Camera{}, fmt.Errorf("camera %d: %w", id, ErrCameraNotFound)
	}
	return cam, nil
}

func (c *Client) refreshLocked(ctx context.Context) error {
	if time.Since(c.lastRefresh) < cameraRefreshInterval {
		return nil
	}

	var channels inputProxyChannelList
	if err := c.getXML(ctx, "/ISAPI/ContentMgmt/InputProxy/channels", &channels); err != nil {
		return fmt.Errorf("fetch cameras: %w", err)
	}
	if len(channels.Channels) == 0 {
		return &ResponseError{Op: "fetch cameras", Detail: "empty channel list"}
	}

	cameras := make(map[int]schema.Camera, len(channels.Channels))
	for _, ch := range channels.Channels {
		name := ch.Name
		if override, ok := c.names[ch.Source.IPAddress]; ok {
			name = override
		}
		cameras[ch.ID] = schema.Camera{
			ID:        ch.ID,
			Name:      name,
			IPAddress: ch.Source.IPAddress,
		}
	}

	var statuses inputProxyChannelStatusList
	if err := c.getXML(ctx, "/ISAPI/ContentMgmt/InputProxy/channels/status", &statuses); err != nil {
		return fmt.Errorf("fetch camera statuses: %w", err)
	}
	for _, st := range statuses.Statuses {
		cam, ok := cameras[st.ID]
		if !ok {
			continue
		}
		cam.Online = st.Online
		cam.Channels = append([]int(nil), st.Channels.IDs...)
		cameras[st.ID] = cam
	}

	c.cameras = cameras
	c.lastRefresh = time.Now()
	c.logger.Debug("camera list refreshed", "cameras", len(cameras))
	return nil
}

// Search asks the recorder for footage on cam between start and end. The
// returned window is clamped to what the recorder actually holds and its
// rtsp URI carries the clamped start as a starttime query parameter.
func (c *Client) Search(ctx context.Context, cam schema.Camera, start, end time.Time) (schema.SearchResult, error) {
	start = start.In(c.loc)
	end = end.In(c.loc)
	if !end.After(start) {
		return schema.SearchResult{}, fmt.Errorf("start %s must be before end %s: %w", start, end, ErrInvalidRange)
	}
	if len(cam.Channels) == 0 {
		return schema.SearchResult{}, &ResponseError{Op: "search", Detail: fmt.Sprintf("camera %d has no streaming channels", cam.ID)}
	}

	desc := cmSearchDescription{
		SearchID:       uuid.NewString(),
		TrackID:        cam.Channels[0],
		StartTime:      start.Format(searchClockLayout),
		EndTime:        end.Format(searchClockLayout),
		MaxResults:     50,
		ResultPosition: 0,
		Metadata:       "//recordType.meta.std-cgi.com",
	}

	var result cmSearchResult
	if err := c.postXML(ctx, "/ISAPI/ContentMgmt/search", desc, &result); err != nil {
		return schema.SearchResult{}, fmt.Errorf("search: %w", err)
	}
	if result.ResponseStatus != "true" {
		return schema.SearchResult{}, &ResponseError{Op: "search", Detail: "response status " + result.ResponseStatus}
	}
	if result.NumOfMatches == 0 || len(result.Matches) == 0 {
		return schema.SearchResult{}, fmt.Errorf("camera %d from %s until %s: %w", cam.ID, start, end, ErrRangeNotFound)
	}

	matches := result.Matches
	foundStart, err := time.ParseInLocation(searchClockLayout, matches[0].TimeSpan.StartTime, c.loc)
	if err != nil {
		return schema.SearchResult{}, &ResponseError{Op: "search", Detail: "bad start time " + matches[0].TimeSpan.StartTime}
	}
	foundEnd, err := time.ParseInLocation(searchClockLayout, matches[len(matches)-1].TimeSpan.EndTime, c.loc)
	if err != nil {
		return schema.SearchResult{}, &ResponseError{Op: "search", Detail: "bad end time " + matches[len(matches)-1].TimeSpan.EndTime}
	}

	// The recorder only serves what it has: clamp the requested window to
	// the stored one.
	if foundStart.After(start) {
		start = foundStart
	}
	if foundEnd.Before(end) {
		end = foundEnd
	}

	uri, err := rewritePlaybackURI(matches[0].Segment.PlaybackURI, start)
	if err != nil {
		return schema.SearchResult{}, &ResponseError{Op: "search", Detail: err.Error()}
	}

	return schema.SearchResult{
		CameraID:  cam.ID,
		StartTime: start,
		EndTime:   end,
		RTSPURI:   uri,
	}, nil
}

// rewritePlaybackURI strips the recorder's query parameters from a playback
// URI and replaces them with a single starttime so the stream begins at the
// clamped window start.
func rewritePlaybackURI(playbackURI string, start time.Time) (string, error) {
	parsed, err := url.Parse(playbackURI)
	if err != nil {
		return "", fmt.Errorf("bad playback URI %q: %w", playbackURI, err)
	}
	q := url.Values{}
	q.Set("starttime", start.Format("20060102T150405")+"Z")
	parsed.RawQuery = q.Encode()
	parsed.Fragment = ""
	return parsed.String(), nil
}

func (c *Client) getXML(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) postXML(ctx context.Context, path string, in, out any) error {
	body, err := xml.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `application/xml; charset="UTF-8"`)
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("recorder unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ResponseError{Op: op, StatusCode: resp.StatusCode, Detail: string(bytes.TrimSpace(detail))}
	}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ResponseError{Op: op, Detail: "malformed reply: " + err.Error()}
	}
	return nil
}
