package lights

import (
	"errors"
	"math"
)

type Brand string

const (
	BrandHue    Brand = "hue"
	BrandLIFX   Brand = "lifx"
	BrandElgato Brand = "elgato"
)

var (
	// ErrUnreachable is returned when a command could not be applied even
	// after one reconnect.
	ErrUnreachable = errors.New("light bridge unreachable")
	// ErrPairingRequired means the bridge has no valid credential for us.
	ErrPairingRequired = errors.New("bridge pairing required")
	ErrLightNotFound   = errors.New("light not found")
)

const (
	MaxBrightness = 254
	MaxSaturation = 254
	MaxHue        = math.MaxUint16

	// HueBlue is the Hue-scale hue of the bridge's default blue.
	HueBlue = 46920
)

// Command is the complete desired appearance of a light, in the Hue bridge's
// classic scales.
type Command struct {
	On         bool   `yaml:"on" json:"on"`
	Brightness uint8  `yaml:"brightness" json:"bri" validate:"lte=254"`
	Hue        uint16 `yaml:"hue" json:"hue"`
	Saturation uint8  `yaml:"saturation" json:"sat" validate:"lte=254"`
}

// RecordingCommand is shown while recording (red).
func RecordingCommand() Command {
	return Command{On: true, Brightness: MaxBrightness, Hue: 0, Saturation: MaxSaturation}
}

// IdleCommand is shown after recording stopped (blue).
func IdleCommand() Command {
	return Command{On: true, Brightness: MaxBrightness, Hue: HueBlue, Saturation: MaxSaturation}
}

// HSB returns hue in degrees, saturation and brightness in [0,1].
func (c Command) HSB() (h, s, b float64) {
	return float64(c.Hue) / MaxHue * 360.0,
		float64(c.Saturation) / MaxSaturation,
		float64(c.Brightness) / MaxBrightness
}

// XY is the CIE chromaticity of the command's color, ignoring brightness.
func (c Command) XY() [2]float64 {
	h, s, _ := c.HSB()
	return hsbToXY(h, s, 1.0)
}

func HSBToRGB(h, s, b float64) (r, g, bl uint8) {
	if s == 0 {
		v := uint8(b * 255)
		return v, v, v
	}

	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	hh := h / 60.0
	i := int(hh)
	ff := hh - float64(i)
	p := b * (1.0 - s)
	q := b * (1.0 - s*ff)
	t := b * (1.0 - s*(1.0-ff))

	var rr, gg, bb float64
	switch i {
	case 0:
		rr, gg, bb = b, t, p
	case 1:
		rr, gg, bb = q, b, p
	case 2:
		rr, gg, bb = p, b, t
	case 3:
		rr, gg, bb = p, q, b
	case 4:
		rr, gg, bb = t, p, b
	default:
		rr, gg, bb = b, p, q
	}

	return uint8(math.Round(rr * 255)), uint8(math.Round(gg * 255)), uint8(math.Round(bb * 255))
}

// hsbToXY converts through gamma-corrected sRGB to the wide-gamut D65 matrix
// Philips documents for Hue bulbs.
func hsbToXY(h, s, b float64) [2]float64 {
	r, g, bl := HSBToRGB(h, s, b)
	rf := gammaCorrect(float64(r) / 255.0)
	gf := gammaCorrect(float64(g) / 255.0)
	bf := gammaCorrect(float64(bl) / 255.0)

	x := rf*0.664511 + gf*0.154324 + bf*0.162028
	y := rf*0.283881 + gf*0.668433 + bf*0.047685
	z := rf*0.000088 + gf*0.072310 + bf*0.986039

	sum := x + y + z
	if sum == 0 {
		return [2]float64{0.3127, 0.3290}
	}
	return [2]float64{x / sum, y / sum}
}

func gammaCorrect(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

// scale maps v in [0,from] onto [0,to], rounding.
func scale(v, from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return math.Round(v / from * to)
}
