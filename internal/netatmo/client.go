package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/Dijker/com.netatmo/internal/capability"
)

// DefaultBaseURL is the production cloud endpoint.
const DefaultBaseURL = "https://api.netatmo.net"

// DefaultScopes cover weather stations and thermostats.
var DefaultScopes = []string{"read_station", "read_thermostat", "write_thermostat"}

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 4 << 20
)

// API paths.
const (
	pathHomesData       = "/api/gethomesdata"
	pathStationsData    = "/api/getstationsdata"
	pathThermostatsData = "/api/getthermostatsdata"
	pathSetThermPoint   = "/api/setthermpoint"
	pathSwitchSchedule  = "/api/switchschedule"
)

// Config holds the application registration and transport settings shared
// by every account's client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// HTTPClient is used for API and token calls. Defaults to a client
	// with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration
}

func (c Config) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// OAuth2 returns the oauth2 configuration for the registration.
func (c Config) OAuth2() *oauth2.Config {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.baseURL() + "/oauth2/authorize",
			TokenURL:  c.baseURL() + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (c Config) AuthCodeURL(state string) string {
	return c.OAuth2().AuthCodeURL(state)
}

// NewFactory returns a Factory producing clients for cfg.
func NewFactory(cfg Config) Factory {
	return func(hooks Hooks) API {
		return NewClient(cfg, hooks)
	}
}

// Client talks to the cloud API on behalf of one account.
type Client struct {
	baseURL string
	conf    *oauth2.Config
	http    *http.Client
	hooks   Hooks
	source  *tokenSource
}

// NewClient creates a client without a token. Call Exchange before any
// other method.
func NewClient(cfg Config, hooks Hooks) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	conf := cfg.OAuth2()

	return &Client{
		baseURL: cfg.baseURL(),
		conf:    conf,
		http:    httpClient,
		hooks:   hooks,
		source: &tokenSource{
			conf:       conf,
			httpClient: httpClient,
			hooks:      hooks,
			now:        time.Now,
		},
	}
}

// Exchange establishes the token pair. An authorization code is traded at
// the token endpoint; a persisted pair is adopted as is and refreshed on
// first rejection.
func (c *Client) Exchange(ctx context.Context, creds Credentials) (Token, error) {
	var tok *oauth2.Token

	switch {
	case creds.IsCode():
		var err error
		tok, err = c.conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.http), creds.Code)
		if err != nil {
			return Token{}, fmt.Errorf("exchanging authorization code: %w", classifyExchangeError(err))
		}
	case creds.AccessToken != "":
		tok = &oauth2.Token{
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			TokenType:    "Bearer",
		}
	default:
		return Token{}, ErrInvalidCredentials
	}

	c.source.set(tok)
	if c.hooks.OnAuthenticated != nil {
		c.hooks.OnAuthenticated()
	}
	return toToken(tok), nil
}

// Token returns the current token pair.
func (c *Client) Token() (Token, bool) {
	tok, ok := c.source.current()
	if !ok {
		return Token{}, false
	}
	return toToken(tok), true
}

// Identify returns the account's user id from the homes listing.
func (c *Client) Identify(ctx context.Context) (string, error) {
	var body struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := c.call(ctx, pathHomesData, url.Values{}, &body); err != nil {
		return "", err
	}
	if body.User.ID == "" {
		return "", fmt.Errorf("netatmo: %s: response carries no user id", pathHomesData)
	}
	return body.User.ID, nil
}

// FetchDevices lists weather stations with their modules, then thermostat
// relays with their thermostats, flattened into records.
func (c *Client) FetchDevices(ctx context.Context) ([]Record, error) {
	var stations, thermostats deviceList

	if err := c.call(ctx, pathStationsData, url.Values{}, &stations); err != nil {
		return nil, err
	}
	if err := c.call(ctx, pathThermostatsData, url.Values{}, &thermostats); err != nil {
		return nil, err
	}

	records := flatten(stations.Devices)
	return append(records, flatten(thermostats.Devices)...), nil
}

// SetThermPoint changes a thermostat's setpoint.
func (c *Client) SetThermPoint(ctx context.Context, spec SetpointSpec) error {
	if spec.RelayID == "" || spec.ThermID == "" || spec.Mode == "" {
		return fmt.Errorf("netatmo: setpoint needs relay, thermostat and mode")
	}
	form := url.Values{
		"device_id":     {spec.RelayID},
		"module_id":     {spec.ThermID},
		"setpoint_mode": {spec.Mode},
	}
	if spec.Temperature != nil {
		form.Set("setpoint_temp", strconv.FormatFloat(*spec.Temperature, 'f', -1, 64))
	}
	if !spec.EndTime.IsZero() {
		form.Set("setpoint_endtime", strconv.FormatInt(spec.EndTime.Unix(), 10))
	}
	return c.call(ctx, pathSetThermPoint, form, nil)
}

// SwitchSchedule selects the thermostat program with the given id.
func (c *Client) SwitchSchedule(ctx context.Context, spec ScheduleSpec) error {
	if spec.RelayID == "" || spec.ThermID == "" || spec.ScheduleID == "" {
		return fmt.Errorf("netatmo: schedule switch needs relay, thermostat and schedule")
	}
	form := url.Values{
		"device_id":   {spec.RelayID},
		"module_id":   {spec.ThermID},
		"schedule_id": {spec.ScheduleID},
	}
	return c.call(ctx, pathSwitchSchedule, form, nil)
}

// call posts once and, when the access token is rejected, refreshes and
// retries exactly once more.
func (c *Client) call(ctx context.Context, path string, form url.Values, out any) error {
	err := c.post(ctx, path, form, out)
	if errors.Is(err, ErrUnauthorized) && c.source.canRefresh() {
		c.source.expire()
		err = c.post(ctx, path, form, out)
	}
	return err
}

type envelope struct {
	Status string          `json:"status"`
	Body   json.RawMessage `json:"body"`
	Error  json.RawMessage `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	tok, err := c.source.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %w", ErrTransient, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %w", ErrTransient, path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Path: path}
		}
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	if len(env.Error) > 0 && string(env.Error) != "null" {
		return parseAPIError(resp.StatusCode, path, env.Error)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Path: path}
	}

	if out == nil || len(env.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("decoding %s body: %w", path, err)
	}
	return nil
}

// parseAPIError accepts both the object form {"code":n,"message":"..."}
// and a bare string.
func parseAPIError(status int, path string, raw json.RawMessage) error {
	apiErr := &APIError{Status: status, Path: path}
	if err := json.Unmarshal(raw, apiErr); err != nil {
		var msg string
		if json.Unmarshal(raw, &msg) == nil {
			apiErr.Message = msg
		} else {
			apiErr.Message = string(raw)
		}
	}
	return apiErr
}

type deviceList struct {
	Devices []map[string]any `json:"devices"`
}

// flatten turns top-level devices and their nested modules into records.
// The top-level payload drops the modules array; each module carries its
// parent's id as StationID.
func flatten(devices []map[string]any) []Record {
	var records []Record
	for _, dev := range devices {
		stationID := stringField(dev, "_id")
		if stationID == "" {
			continue
		}

		payload := make(map[string]any, len(dev))
		for k, v := range dev {
			if k != "modules" {
				payload[k] = v
			}
		}
		records = append(records, Record{
			StationID: stationID,
			Type:      capability.TypeTag(stringField(dev, "type")),
			Name:      firstNonEmpty(stringField(dev, "station_name"), stringField(dev, "module_name"), stationID),
			Payload:   payload,
		})

		modules, _ := dev["modules"].([]any)
		for _, m := range modules {
			mod, ok := m.(map[string]any)
			if !ok {
				continue
			}
			moduleID := stringField(mod, "_id")
			if moduleID == "" {
				continue
			}
			records = append(records, Record{
				StationID: stationID,
				ModuleID:  moduleID,
				Type:      capability.TypeTag(stringField(mod, "type")),
				Name:      firstNonEmpty(stringField(mod, "module_name"), moduleID),
				Payload:   mod,
			})
		}
	}
	return records
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func toToken(tok *oauth2.Token) Token {
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}
