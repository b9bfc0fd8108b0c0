package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/loadsched/internal/api"
	"github.com/mattjoyce/loadsched/internal/events"
	"github.com/mattjoyce/loadsched/internal/loader"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type hostsMsg loader.Snapshot

type controlMsg string

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client talks to a loadsched API server.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (c Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 2 * time.Second}
}

func (c Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return req, nil
}

func (c Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health fetches /healthz.
func (c Client) Health(ctx context.Context) (api.HealthzResponse, error) {
	var h api.HealthzResponse
	err := c.getJSON(ctx, "/healthz", &h)
	return h, err
}

// Hosts fetches the loader snapshot from /hosts.
func (c Client) Hosts(ctx context.Context) (loader.Snapshot, error) {
	var s loader.Snapshot
	err := c.getJSON(ctx, "/hosts", &s)
	return s, err
}

// Post sends a bodiless control call such as /suspend.
func (c Client) Post(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodPost, path)
	if err != nil {
		return err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("POST %s: %s %s", path, resp.Status, e.Error)
	}
	return nil
}

// Stream reads the /events stream until ctx ends or the connection drops,
// sending each event to ch.
func (c Client) Stream(ctx context.Context, ch chan<- events.Event) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/events")
	if err != nil {
		return err
	}
	// The stream outlives any client timeout.
	resp, err := (&http.Client{Transport: c.http().Transport}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /events: %s", resp.Status)
	}
	return readSSE(bufio.NewScanner(resp.Body), ch)
}

// readSSE forwards each blank-line terminated frame to ch. A frame cut off by
// EOF is discarded.
func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) error {
	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(current.Data) > 0 {
				current.At = time.Now()
				ch <- current
			}
			current = events.Event{}
			continue
		}

		switch {
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = json.RawMessage(line[6:])
		}
	}
	return scanner.Err()
}

// --- Commands ---

// subscribeToEvents feeds the SSE stream into ch. Returns
// sseDisconnectedMsg when the connection drops.
func subscribeToEvents(c Client, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		_ = c.Stream(context.Background(), ch)
		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c Client) tea.Cmd {
	return func() tea.Msg {
		h, err := c.Health(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return healthMsg(h)
	}
}

func fetchHosts(c Client) tea.Cmd {
	return func() tea.Msg {
		s, err := c.Hosts(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return hostsMsg(s)
	}
}

func sendControl(c Client, path string) tea.Cmd {
	return func() tea.Msg {
		if err := c.Post(context.Background(), path); err != nil {
			return errMsg(err)
		}
		return controlMsg(path)
	}
}
