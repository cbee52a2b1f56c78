package lights

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openhue/openhue-go"
	"go.uber.org/zap"
)

type HueConfig struct {
	Address string
	Key     string
	Timeout time.Duration
	// BaseURL overrides https://<Address>.
	BaseURL string
}

// HueController talks CLIP v2 to one bridge. The configured light id is the
// classic v1 number; Connect resolves it to the v2 resource id.
type HueController struct {
	cfg        HueConfig
	logger     *zap.Logger
	httpClient *http.Client
	client     *openhue.ClientWithResponses
	lightIDs   map[int]string
}

func NewHueController(cfg HueConfig, logger *zap.Logger) *HueController {
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s", cfg.Address)
	}
	return &HueController{
		cfg:    cfg,
		logger: logger,
	}
}

// NewHueHTTPClient accepts the bridge's self-signed certificate.
func NewHueHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

func (c *HueController) Brand() Brand {
	return BrandHue
}

func (c *HueController) Connect(ctx context.Context) error {
	httpClient := NewHueHTTPClient(c.cfg.Timeout)
	key := c.cfg.Key
	client, err := openhue.NewClientWithResponses(
		c.cfg.BaseURL,
		openhue.WithHTTPClient(httpClient),
		openhue.WithRequestEditorFn(func(ctx context.Context, req *http.Request) error {
			req.Header.Set("hue-application-key", key)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("create hue client for %s: %w", c.cfg.Address, err)
	}

	resp, err := client.GetLightsWithResponse(ctx)
	if err != nil {
		httpClient.CloseIdleConnections()
		return fmt.Errorf("list lights on %s: %w", c.cfg.Address, err)
	}
	if resp.HTTPResponse != nil {
		switch code := resp.HTTPResponse.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			httpClient.CloseIdleConnections()
			return fmt.Errorf("%w: bridge %s rejected the application key (HTTP %d)", ErrPairingRequired, c.cfg.Address, code)
		case code != http.StatusOK:
			httpClient.CloseIdleConnections()
			return fmt.Errorf("list lights on %s: HTTP %d", c.cfg.Address, code)
		}
	}
	if resp.JSON200 == nil || resp.JSON200.Data == nil {
		httpClient.CloseIdleConnections()
		return fmt.Errorf("list lights on %s: no light data", c.cfg.Address)
	}

	ids := make(map[int]string)
	for _, l := range *resp.JSON200.Data {
		if l.Id == nil || l.IdV1 == nil {
			continue
		}
		n, ok := parseV1LightID(*l.IdV1)
		if !ok {
			continue
		}
		ids[n] = *l.Id
	}

	c.httpClient = httpClient
	c.client = client
	c.lightIDs = ids
	c.logger.Info("hue session established",
		zap.String("bridge", c.cfg.Address), zap.Int("lights", len(ids)))
	return nil
}

func (c *HueController) SetState(ctx context.Context, lightID int, cmd Command) error {
	if c.client == nil {
		return fmt.Errorf("hue bridge %s: not connected", c.cfg.Address)
	}
	rid, ok := c.lightIDs[lightID]
	if !ok {
		return fmt.Errorf("%w: hue light %d on %s", ErrLightNotFound, lightID, c.cfg.Address)
	}

	resp, err := c.client.UpdateLightWithResponse(ctx, rid, hueBody(cmd))
	if err != nil {
		return fmt.Errorf("update hue light %d: %w", lightID, err)
	}
	if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode != http.StatusOK {
		return fmt.Errorf("update hue light %d: bridge returned HTTP %d", lightID, resp.HTTPResponse.StatusCode)
	}
	return nil
}

func (c *HueController) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	c.httpClient = nil
	c.client = nil
	c.lightIDs = nil
	return nil
}

func hueBody(cmd Command) openhue.UpdateLightJSONRequestBody {
	on := cmd.On
	body := openhue.UpdateLightJSONRequestBody{
		On: &openhue.On{On: &on},
	}
	if !cmd.On {
		return body
	}

	brightness := openhue.Brightness(scale(float64(cmd.Brightness), MaxBrightness, 100))
	body.Dimming = &openhue.Dimming{Brightness: &brightness}

	xy := cmd.XY()
	x := float32(xy[0])
	y := float32(xy[1])
	body.Color = &openhue.Color{
		Xy: &openhue.GamutPosition{X: &x, Y: &y},
	}
	return body
}

// parseV1LightID extracts 4 from "/lights/4".
func parseV1LightID(v1 string) (int, bool) {
	rest, ok := strings.CutPrefix(v1, "/lights/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
