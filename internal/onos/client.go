// Package onos is a REST client for the ONOS SDN controller: it lists the
// live topology and installs or deletes flow rules on behalf of the
// lifecycle manager.
package onos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/model"
)

// ErrRequestFailed wraps every transport failure and non-2xx response.
var ErrRequestFailed = errors.New("controller request failed")

// Config describes how to reach the controller.
type Config struct {
	BaseURL           string
	Username          string
	Password          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retries           int
}

// Client talks to the controller's REST API. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	log     logging.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = logging.OrNoop(l) }
}

// New builds a client from cfg. A non-positive RequestsPerSecond disables
// client-side rate limiting.
func New(cfg Config, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetBasicAuth(cfg.Username, cfg.Password).
			SetHeader("Accept", "application/json").
			SetRetryCount(cfg.Retries),
		limiter: rate.NewLimiter(limit, burst),
		log:     logging.Noop(),
	}
	if cfg.Timeout > 0 {
		c.http.SetTimeout(cfg.Timeout)
	}
	c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		return c.limiter.Wait(r.Context())
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type hostJSON struct {
	ID        string `json:"id"`
	MAC       string `json:"mac"`
	Locations []struct {
		ElementID string `json:"elementId"`
		Port      string `json:"port"`
	} `json:"locations"`
}

type hostsResponse struct {
	Hosts []hostJSON `json:"hosts"`
}

type linkJSON struct {
	Src         model.SwitchPort  `json:"src"`
	Dst         model.SwitchPort  `json:"dst"`
	Annotations map[string]string `json:"annotations"`
}

type linksResponse struct {
	Links []linkJSON `json:"links"`
}

// Hosts lists the end hosts known to the controller. Hosts without a
// location are skipped.
func (c *Client) Hosts(ctx context.Context) ([]model.Host, error) {
	var out hostsResponse
	if _, err := c.do(ctx, http.MethodGet, "/hosts", nil, &out); err != nil {
		return nil, err
	}

	hosts := make([]model.Host, 0, len(out.Hosts))
	for _, h := range out.Hosts {
		if len(h.Locations) == 0 {
			c.log.Warn(ctx, "host has no location", logging.String("host_id", h.ID))
			continue
		}
		loc := h.Locations[0]
		hosts = append(hosts, model.Host{
			ID:       h.ID,
			MAC:      h.MAC,
			Location: model.SwitchPort{Device: loc.ElementID, Port: loc.Port},
		})
	}
	return hosts, nil
}

// Links lists the infrastructure links, one entry per direction. Bandwidth
// is 0 when the link carries no usable "bandwidth" annotation.
func (c *Client) Links(ctx context.Context) ([]model.Link, error) {
	var out linksResponse
	if _, err := c.do(ctx, http.MethodGet, "/links", nil, &out); err != nil {
		return nil, err
	}

	links := make([]model.Link, 0, len(out.Links))
	for _, l := range out.Links {
		link := model.Link{Src: l.Src, Dst: l.Dst}
		if raw, ok := l.Annotations["bandwidth"]; ok {
			bw, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil || bw < 0 {
				c.log.Warn(ctx, "ignoring bad bandwidth annotation",
					logging.String("src", l.Src.String()),
					logging.String("dst", l.Dst.String()),
					logging.String("bandwidth", raw),
				)
			} else {
				link.Bandwidth = int64(bw)
			}
		}
		links = append(links, link)
	}
	return links, nil
}

type criterion struct {
	Type string `json:"type"`
	Port string `json:"port,omitempty"`
	MAC  string `json:"mac,omitempty"`
}

type instruction struct {
	Type string `json:"type"`
	Port string `json:"port"`
}

type flowJSON struct {
	Priority    int    `json:"priority"`
	Timeout     int    `json:"timeout"`
	IsPermanent bool   `json:"isPermanent"`
	DeviceID    string `json:"deviceId"`
	Treatment   struct {
		Instructions []instruction `json:"instructions"`
	} `json:"treatment"`
	Selector struct {
		Criteria []criterion `json:"criteria"`
	} `json:"selector"`
}

func toFlowJSON(r model.FlowRule) flowJSON {
	var f flowJSON
	f.Priority = r.Priority
	f.Timeout = r.Timeout
	f.IsPermanent = r.Permanent
	f.DeviceID = r.DeviceID
	f.Treatment.Instructions = []instruction{{Type: "OUTPUT", Port: r.OutPort}}
	f.Selector.Criteria = []criterion{
		{Type: "IN_PORT", Port: r.InPort},
		{Type: "ETH_DST", MAC: r.DstMAC},
		{Type: "ETH_SRC", MAC: r.SrcMAC},
	}
	return f
}

// InstallFlow pushes rule to its device and returns the rule id the
// controller assigned, taken from the Location header.
func (c *Client) InstallFlow(ctx context.Context, rule model.FlowRule) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/flows/"+rule.DeviceID, toFlowJSON(rule), nil)
	if err != nil {
		return "", err
	}
	loc := strings.TrimRight(resp.Header().Get("Location"), "/")
	if loc == "" {
		return "", fmt.Errorf("%w: install flow on %s: no Location header", ErrRequestFailed, rule.DeviceID)
	}
	return path.Base(loc), nil
}

// DeleteFlow removes an installed rule.
func (c *Client) DeleteFlow(ctx context.Context, deviceID, ruleID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/flows/"+deviceID+"/"+ruleID, nil, nil)
	return err
}

// ConfigureLinkBandwidths posts a network configuration document.
func (c *Client) ConfigureLinkBandwidths(ctx context.Context, cfg LinkConfig) error {
	_, err := c.do(ctx, http.MethodPost, "/network/configuration", cfg, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, url string, body, result any) (*resty.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrRequestFailed, method, url, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	c.log.Debug(ctx, "controller request",
		logging.String("method", method),
		logging.String("url", url),
		logging.Int("status", resp.StatusCode()),
	)
	return resp, nil
}
