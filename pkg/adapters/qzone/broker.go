// Package qzone talks to the login relay and the visitor endpoint of the
// origin social network.
package qzone

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

const (
	DefaultLoginPageURL  = "https://xui.ptlogin2.qq.com/cgi-bin/xlogin?s_url=https%3A%2F%2Fhuifu.qq.com%2Findex.html&style=20&appid=715021417&proxy_url=https%3A%2F%2Fhuifu.qq.com%2Fproxy.html"
	DefaultLocalAgentURL = "https://localhost.ptlogin2.qq.com:4301/pt_get_st"
	DefaultJumpURL       = "https://ssl.ptlogin2.qq.com/jump"
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36 Edg/135.0.0.0"

	localTokenCookie = "pt_local_token"
	clientKeyCookie  = "clientkey"
	relayReferer     = "https://ssl.xui.ptlogin2.qq.com/"
)

// Handshake step names, reported in domain.CredentialError.
const (
	StepLoginPage  = "login_page"
	StepLocalAgent = "local_agent"
	StepJump       = "jump"
	StepFinalHop   = "final_hop"
)

var (
	keyIndexPattern = regexp.MustCompile(`keyindex:\s*(\d+)`)
	redirectPattern = regexp.MustCompile(`'0',\s*(?:'0',\s*)?'(http.*?)'`)
)

type BrokerConfig struct {
	UIN           int64
	LoginPageURL  string
	LocalAgentURL string
	JumpURL       string
	UserAgent     string
	StepTimeout   time.Duration
	FinalTimeout  time.Duration
}

func (c *BrokerConfig) setDefaults() {
	if c.LoginPageURL == "" {
		c.LoginPageURL = DefaultLoginPageURL
	}
	if c.LocalAgentURL == "" {
		c.LocalAgentURL = DefaultLocalAgentURL
	}
	if c.JumpURL == "" {
		c.JumpURL = DefaultJumpURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 5 * time.Second
	}
	if c.FinalTimeout <= 0 {
		c.FinalTimeout = 10 * time.Second
	}
}

// Broker acquires a fresh credential set through the four-step handshake with
// the login relay and the user's locally running client.
type Broker struct {
	cfg      BrokerConfig
	client   *http.Client
	noFollow *http.Client
	store    ports.CredentialStore
	now      func() time.Time
	log      *slog.Logger
}

func NewBroker(cfg BrokerConfig, store ports.CredentialStore, logger *slog.Logger) *Broker {
	cfg.setDefaults()
	return &Broker{
		cfg:    cfg,
		client: &http.Client{},
		noFollow: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		store: store,
		now:   time.Now,
		log:   logger.With("component", "credential_broker"),
	}
}

// Refresh runs the handshake and, only when every step succeeded, replaces
// the stored credential.
func (b *Broker) Refresh(ctx context.Context) (*domain.CredentialSet, error) {
	b.log.Info("refreshing credential", "uin", b.cfg.UIN)
	uin := strconv.FormatInt(b.cfg.UIN, 10)

	// 1. Login page hands out the local token.
	resp, _, err := b.get(ctx, b.client, b.cfg.LoginPageURL, nil, b.cfg.StepTimeout)
	if err != nil {
		return nil, b.fail(StepLoginPage, err)
	}
	localToken := cookieValue(resp, localTokenCookie)
	if localToken == "" {
		return nil, b.fail(StepLoginPage, domain.ErrMissingLocalToken)
	}

	// 2. The local client answers with keyindex and clientkey.
	agentURL, err := withQuery(b.cfg.LocalAgentURL, url.Values{
		"clientuin":   {uin},
		"callback":    {"ptui_getst_CB"},
		"r":           {"0.7284667321181328"},
		"pt_local_tk": {localToken},
	})
	if err != nil {
		return nil, b.fail(StepLocalAgent, err)
	}
	resp, body, err := b.get(ctx, b.client, agentURL, http.Header{
		"Referer": {relayReferer},
		"Cookie":  {localTokenCookie + "=" + localToken},
	}, b.cfg.StepTimeout)
	if err != nil {
		return nil, b.fail(StepLocalAgent, fmt.Errorf("%w: %v", domain.ErrLocalAgentUnreachable, err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, b.fail(StepLocalAgent, fmt.Errorf("%w: status %d", domain.ErrLocalAgentUnreachable, resp.StatusCode))
	}
	keyIndex := keyIndexPattern.FindSubmatch(body)
	clientKey := cookieValue(resp, clientKeyCookie)
	if keyIndex == nil || clientKey == "" {
		return nil, b.fail(StepLocalAgent, domain.ErrCredentialFieldsAbsent)
	}

	// 3. The issuer returns the redirect target inside a script call.
	jumpURL, err := withQuery(b.cfg.JumpURL, url.Values{
		"clientuin":   {uin},
		"keyindex":    {string(keyIndex[1])},
		"pt_aid":      {"549000912"},
		"daid":        {"5"},
		"u1":          {"https://qzs.qzone.qq.com/qzone/v5/loginsucc.html?para=izone&specifyurl=http%3A%2F%2Fuser.qzone.qq.com%2F" + uin + "%2Finfocenter"},
		"pt_local_tk": {localToken},
		"pt_3rd_aid":  {"0"},
		"ptopt":       {"1"},
		"style":       {"40"},
	})
	if err != nil {
		return nil, b.fail(StepJump, err)
	}
	_, body, err = b.get(ctx, b.client, jumpURL, http.Header{
		"Cookie": {fmt.Sprintf("%s=%s;clientuin=%s;%s=%s;", localTokenCookie, localToken, uin, clientKeyCookie, clientKey)},
	}, b.cfg.StepTimeout)
	if err != nil {
		return nil, b.fail(StepJump, err)
	}
	target := redirectPattern.FindSubmatch(body)
	if target == nil {
		return nil, b.fail(StepJump, domain.ErrRedirectNotFound)
	}

	// 4. One hop, no further redirects; the session cookies come back here.
	resp, _, err = b.get(ctx, b.noFollow, string(target[1]), nil, b.cfg.FinalTimeout)
	if err != nil {
		return nil, b.fail(StepFinalHop, err)
	}
	cookies := make(map[string]string)
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c.Value
	}
	cred, err := domain.NewCredentialSet(cookies, b.now())
	if err != nil {
		return nil, b.fail(StepFinalHop, err)
	}

	if err := b.store.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("saving credential: %w", err)
	}
	b.log.Info("credential refreshed", "cookies", len(cred.Cookies), "g_tk", cred.Checksum)
	return cred, nil
}

func (b *Broker) fail(step string, cause error) error {
	err := &domain.CredentialError{Step: step, Cause: cause}
	b.log.Error("credential refresh failed", "step", step, "error", cause)
	return err
}

// get performs one bounded GET and returns the response with its body read.
func (b *Broker) get(ctx context.Context, client *http.Client, rawURL string, header http.Header, timeout time.Duration) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", b.cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func cookieValue(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func withQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var _ ports.CredentialBroker = (*Broker)(nil)
