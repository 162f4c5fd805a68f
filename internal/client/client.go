// Package client talks to the parking API over HTTP.  It implements the
// reconciler's Remote and Fetcher so that a terminal or test harness can
// hold a live, optimistic view of a zone.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/nearest"
	"github.com/iliyamo/parking-spot-reservation/internal/realtime"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// Client is an API client authenticated with one access token.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	stream *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, apperr.Invalid("base_url", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.Invalid("base_url", "scheme must be http or https")
	}
	return &Client{
		base:   u,
		token:  token,
		http:   &http.Client{Timeout: 10 * time.Second},
		stream: &http.Client{}, // no timeout; the stream is long-lived
	}, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and decodes a 2xx body into out.  Non-2xx answers become
// the typed error named by the body's code.
func (c *Client) do(req *http.Request, id int64, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Unavailable("api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error == "" {
			if resp.StatusCode >= 500 {
				return apperr.Unavailable("api", fmt.Errorf("status %d", resp.StatusCode))
			}
			return apperr.FromCode(codeForStatus(resp.StatusCode), http.StatusText(resp.StatusCode), id)
		}
		return apperr.FromCode(eb.Error, eb.Message, id)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Unavailable("api", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return apperr.CodeValidation
	case http.StatusNotFound:
		return apperr.CodeNotFound
	case http.StatusConflict:
		return apperr.CodeConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.CodeForbidden
	}
	return apperr.CodeUnavailable
}

type actionResponse struct {
	Outcome string     `json:"outcome"`
	Spot    model.Spot `json:"spot"`
}

// Do performs a spot action and returns the committed spot.
func (c *Client) Do(ctx context.Context, action reservation.Action, spotID int64, requestID string) (model.Spot, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/spots/"+strconv.FormatInt(spotID, 10)+"/"+string(action), nil)
	if err != nil {
		return model.Spot{}, err
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	var out actionResponse
	if err := c.do(req, spotID, &out); err != nil {
		return model.Spot{}, err
	}
	return out.Spot, nil
}

// ZoneSpots fetches the full state of a zone.
func (c *Client) ZoneSpots(ctx context.Context, zoneID int64) ([]model.Spot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/zones/"+strconv.FormatInt(zoneID, 10)+"/spots", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Items []model.Spot `json:"items"`
	}
	if err := c.do(req, zoneID, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Nearest asks for the nearest Available spot to gateID.
func (c *Client) Nearest(ctx context.Context, zoneID, gateID int64) (nearest.Match, error) {
	path := "/v1/zones/" + strconv.FormatInt(zoneID, 10) + "/nearest"
	if gateID > 0 {
		path += "?gate_id=" + strconv.FormatInt(gateID, 10)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nearest.Match{}, err
	}
	var out nearest.Match
	err = c.do(req, zoneID, &out)
	return out, err
}

// CopyLayoutResult is the answer of CopyLayout.
type CopyLayoutResult struct {
	Created      int   `json:"created"`
	Deleted      int   `json:"deleted"`
	SourceFloor  int   `json:"source_floor"`
	TargetFloors []int `json:"target_floors"`
}

// CopyLayout replicates a floor onto the rest of the building.
func (c *Client) CopyLayout(ctx context.Context, zoneID int64, sourceFloor int) (CopyLayoutResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/admin/zones/"+strconv.FormatInt(zoneID, 10)+"/copy-layout",
		map[string]int{"source_floor": sourceFloor})
	if err != nil {
		return CopyLayoutResult{}, err
	}
	var out CopyLayoutResult
	err = c.do(req, zoneID, &out)
	return out, err
}

// Stream opens the change stream of a zone.  Envelopes are delivered on
// the returned channel, which is closed when the stream ends; the last
// envelope is always an OFFLINE status.
func (c *Client) Stream(ctx context.Context, zoneID int64) (<-chan realtime.Envelope, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/zones/"+strconv.FormatInt(zoneID, 10)+"/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, apperr.Unavailable("stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = codeForStatus(resp.StatusCode)
		}
		return nil, apperr.FromCode(eb.Error, eb.Message, zoneID)
	}

	out := make(chan realtime.Envelope, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		_ = realtime.ReadFrames(resp.Body, func(env realtime.Envelope) error {
			select {
			case out <- env:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		select {
		case out <- realtime.Envelope{Health: realtime.Offline}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}
