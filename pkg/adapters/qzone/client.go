package qzone

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

const DefaultVisitorURL = "https://h5.qzone.qq.com/proxy/domain/g.qzone.qq.com/cgi-bin/friendshow/cgi_get_visitor_more"

var callbackPattern = regexp.MustCompile(`(?s)_Callback\((.*)\);?`)

type ClientConfig struct {
	UIN        int64
	VisitorURL string
	UserAgent  string
	Timeout    time.Duration
}

// Client fetches the most recent visitor page for the monitored identity.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.VisitorURL == "" {
		cfg.VisitorURL = DefaultVisitorURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
		log:  logger.With("component", "visitor_client"),
	}
}

// Fetch returns the flattened visitor records. Network failures and 5xx
// answers come back as *domain.TransientFetchError; an unreadable envelope or
// a non-zero code is a credential failure.
func (c *Client) Fetch(ctx context.Context, cred *domain.CredentialSet) ([]domain.VisitorRecord, error) {
	endpoint := fmt.Sprintf("%s?uin=%d&mask=7&page=1&fupdate=1&g_tk=%d", c.cfg.VisitorURL, c.cfg.UIN, cred.Checksum)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building visitor request: %w", err)
	}
	req.Header.Set("Cookie", cred.CookieHeader())
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransientFetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientFetchError{Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &domain.TransientFetchError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	records, err := ParseVisitorResponse(body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("visitor page fetched", "records", len(records))
	return records, nil
}

type visitorEnvelope struct {
	Code    *flexInt `json:"code"`
	Message string   `json:"message"`
	Data    struct {
		Items []visitorItem `json:"items"`
	} `json:"data"`
}

type visitorItem struct {
	Time        flexInt  `json:"time"`
	UIN         flexInt  `json:"uin"`
	Name        string   `json:"name"`
	Src         flexInt  `json:"src"`
	PlatformSrc flexInt  `json:"platform_src"`
	ServiceSrc  flexInt  `json:"service_src"`
	HideFrom    flexInt  `json:"hide_from"`
	IsHideVisit flexInt  `json:"is_hide_visit"`
	Yellow      flexInt  `json:"yellow"`
	SuperVIP    flexInt  `json:"supervip"`
	Shuoshuoes  []struct {
		ID flexString `json:"id"`
	} `json:"shuoshuoes"`
	UINs []visitorItem `json:"uins"`
}

func (it visitorItem) record() domain.VisitorRecord {
	rec := domain.VisitorRecord{
		Timestamp:      int64(it.Time),
		VisitorID:      int64(it.UIN),
		DisplayName:    it.Name,
		Source:         int(it.Src),
		PlatformSource: int(it.PlatformSrc),
		ServiceSource:  int(it.ServiceSrc),
		HideFrom:       it.HideFrom != 0,
		IsHiddenVisit:  it.IsHideVisit != 0,
		IsYellowVIP:    it.Yellow > 0,
		IsSuperVIP:     it.SuperVIP > 0,
	}
	if len(it.Shuoshuoes) > 0 {
		rec.PostID = string(it.Shuoshuoes[0].ID)
	}
	return rec
}

// ParseVisitorResponse unwraps the callback envelope and flattens each item
// followed by its nested visitors.
func ParseVisitorResponse(body []byte) ([]domain.VisitorRecord, error) {
	match := callbackPattern.FindSubmatch([]byte(strings.TrimSpace(string(body))))
	if match == nil {
		return nil, &domain.MalformedResponseError{Reason: "callback envelope not found"}
	}

	var env visitorEnvelope
	if err := json.Unmarshal(match[1], &env); err != nil {
		return nil, &domain.MalformedResponseError{Reason: err.Error()}
	}
	if env.Code == nil {
		return nil, &domain.MalformedResponseError{Reason: "status code missing"}
	}
	if *env.Code != 0 {
		return nil, &domain.APIStatusError{Code: int(*env.Code), Message: env.Message}
	}

	records := make([]domain.VisitorRecord, 0, len(env.Data.Items))
	for _, item := range env.Data.Items {
		records = append(records, item.record())
		for _, sub := range item.UINs {
			records = append(records, sub.record())
		}
	}
	return records, nil
}

// flexInt accepts a JSON number, a numeric string, a bool, or null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch s {
	case "", "null", "false":
		*f = 0
		return nil
	case "true":
		*f = 1
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("not an integer: %s", b)
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

var _ ports.VisitorFetcher = (*Client)(nil)
