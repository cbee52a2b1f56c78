package lights

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.yhsif.com/lifxlan"
	"go.yhsif.com/lifxlan/light"
	"go.uber.org/zap"
)

const (
	lifxDefaultPort = "56700"
	lifxKelvin      = 3500
	lifxTransition  = 200 * time.Millisecond
)

// LIFXController drives one bulb addressed by host[:port]. The light id is
// not used; a LIFX bulb is a single light.
type LIFXController struct {
	address string
	logger  *zap.Logger
	light   light.Device
}

func NewLIFXController(address string, logger *zap.Logger) *LIFXController {
	return &LIFXController{
		address: address,
		logger:  logger,
	}
}

func (c *LIFXController) Brand() Brand {
	return BrandLIFX
}

func (c *LIFXController) Connect(ctx context.Context) error {
	addr := c.address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, lifxDefaultPort)
	}

	dev := lifxlan.NewDevice(addr, lifxlan.ServiceUDP, lifxlan.AllDevices)
	ld, err := light.Wrap(ctx, dev, false)
	if err != nil {
		return fmt.Errorf("wrap lifx bulb %s: %w", addr, err)
	}

	c.light = ld
	c.logger.Info("lifx session established",
		zap.String("bulb", addr), zap.String("label", ld.Label().String()))
	return nil
}

func (c *LIFXController) SetState(ctx context.Context, _ int, cmd Command) error {
	if c.light == nil {
		return fmt.Errorf("lifx bulb %s: not connected", c.address)
	}

	conn, err := c.light.Dial()
	if err != nil {
		return fmt.Errorf("dial lifx bulb %s: %w", c.address, err)
	}
	defer conn.Close()

	if !cmd.On {
		if err := c.light.SetLightPower(ctx, conn, lifxlan.PowerOff, lifxTransition, true); err != nil {
			return fmt.Errorf("lifx power off: %w", err)
		}
		return nil
	}

	color := lifxColor(cmd)
	if err := c.light.SetColor(ctx, conn, &color, lifxTransition, true); err != nil {
		return fmt.Errorf("lifx set color: %w", err)
	}
	if err := c.light.SetLightPower(ctx, conn, lifxlan.PowerOn, lifxTransition, true); err != nil {
		return fmt.Errorf("lifx power on: %w", err)
	}
	return nil
}

func (c *LIFXController) Close() error {
	c.light = nil
	return nil
}

func lifxColor(cmd Command) lifxlan.Color {
	return lifxlan.Color{
		Hue:        cmd.Hue,
		Saturation: uint16(scale(float64(cmd.Saturation), MaxSaturation, 65535)),
		Brightness: uint16(scale(float64(cmd.Brightness), MaxBrightness, 65535)),
		Kelvin:     lifxKelvin,
	}
}
