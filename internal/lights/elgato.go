package lights

import (
	"context"
	"fmt"
	"strings"

	"github.com/mdlayher/keylight"
	"go.uber.org/zap"
)

const elgatoPort = "9123"

// ElgatoController drives a Key Light accessory. Elgato lights have no color,
// so only power and brightness of a Command are honored; the light id is the
// 1-based index inside the accessory.
type ElgatoController struct {
	address string
	logger  *zap.Logger
	client  *keylight.Client
}

func NewElgatoController(address string, logger *zap.Logger) *ElgatoController {
	return &ElgatoController{
		address: address,
		logger:  logger,
	}
}

func (c *ElgatoController) Brand() Brand {
	return BrandElgato
}

func (c *ElgatoController) Connect(ctx context.Context) error {
	addr := elgatoURL(c.address)
	client, err := keylight.NewClient(addr, nil)
	if err != nil {
		return fmt.Errorf("create elgato client for %s: %w", addr, err)
	}
	d, err := client.AccessoryInfo(ctx)
	if err != nil {
		return fmt.Errorf("elgato accessory info %s: %w", addr, err)
	}

	c.client = client
	c.logger.Info("elgato session established",
		zap.String("accessory", addr), zap.String("name", d.DisplayName), zap.String("product", d.ProductName))
	return nil
}

func (c *ElgatoController) SetState(ctx context.Context, lightID int, cmd Command) error {
	if c.client == nil {
		return fmt.Errorf("elgato %s: not connected", c.address)
	}

	ll, err := c.client.Lights(ctx)
	if err != nil {
		return fmt.Errorf("elgato lights: %w", err)
	}
	idx := lightID - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(ll) {
		return fmt.Errorf("%w: elgato light %d of %d", ErrLightNotFound, lightID, len(ll))
	}

	ll[idx].On = cmd.On
	ll[idx].Brightness = elgatoBrightness(cmd.Brightness)
	if err := c.client.SetLights(ctx, ll); err != nil {
		return fmt.Errorf("elgato set lights: %w", err)
	}
	return nil
}

func (c *ElgatoController) Close() error {
	c.client = nil
	return nil
}

// elgatoBrightness maps 0..254 onto the library's accepted [3, 100].
func elgatoBrightness(bri uint8) int {
	v := int(scale(float64(bri), MaxBrightness, 100))
	if v < 3 {
		v = 3
	}
	if v > 100 {
		v = 100
	}
	return v
}

func elgatoURL(address string) string {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	if !strings.Contains(address, ":") {
		address += ":" + elgatoPort
	}
	return "http://" + address
}
