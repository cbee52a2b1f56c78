// Package discovery finds Hue bridges and Elgato Key Lights on the local
// network so their addresses can be written into the configuration.
package discovery

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCloudURLs are the Hue N-UPnP endpoints, tried in order.
var DefaultCloudURLs = []string{
	"https://discovery.meethue.com/",
	"https://www.meethue.com/api/nupnp",
}

const (
	mdnsTimeout  = 3 * time.Second
	ssdpWindow   = 5 * time.Second
	sweepTimeout = time.Second
	sweepWorkers = 64
)

type Device struct {
	IP   string `json:"ip"`
	Name string `json:"name"`
}

type method func(ctx context.Context, add func(ip, name string)) error

type Scanner struct {
	logger    *zap.Logger
	client    *http.Client
	CloudURLs []string

	hueMethods    []method
	hueFallback   method
	elgatoMethods []method
}

func NewScanner(logger *zap.Logger) *Scanner {
	s := &Scanner{
		logger:    logger.Named("discovery"),
		client:    &http.Client{Timeout: 5 * time.Second},
		CloudURLs: DefaultCloudURLs,
	}
	s.hueMethods = []method{s.hueViaMDNS, s.hueViaCloud, s.hueViaSSDP}
	s.hueFallback = s.hueViaSweep
	s.elgatoMethods = []method{s.elgatoViaMDNS}
	return s
}

// DiscoverHueBridges runs mDNS, N-UPnP and SSDP concurrently and falls back
// to a subnet sweep when none of them answered. Results are unique by IP and
// sorted.
func (s *Scanner) DiscoverHueBridges(ctx context.Context) ([]Device, error) {
	return s.collect(ctx, s.hueMethods, s.hueFallback)
}

// DiscoverElgatoLights browses _elg._tcp and falls back to probing port 9123
// across the local /24 subnets.
func (s *Scanner) DiscoverElgatoLights(ctx context.Context) ([]Device, error) {
	return s.collect(ctx, s.elgatoMethods, s.elgatoViaSweep)
}

func (s *Scanner) collect(ctx context.Context, methods []method, fallback method) ([]Device, error) {
	var mu sync.Mutex
	found := make(map[string]Device)
	add := func(ip, name string) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := found[ip]; ok {
			return
		}
		found[ip] = Device{IP: ip, Name: name}
	}

	// Individual method failures are logged; only cancellation aborts.
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range methods {
		m := m
		g.Go(func() error {
			if err := m(gctx, add); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Debug("discovery method failed", zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mu.Lock()
	n := len(found)
	mu.Unlock()
	if n == 0 && fallback != nil {
		s.logger.Info("nothing answered, probing local subnets")
		if err := fallback(ctx, add); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	devices := make([]Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].IP < devices[j].IP })
	return devices, nil
}

func (s *Scanner) browse(ctx context.Context, service string, add func(ip, name string)) error {
	entries := make(chan *mdns.ServiceEntry, 16)
	errc := make(chan error, 1)

	go func() {
		params := &mdns.QueryParam{
			Service:             service,
			Domain:              "local",
			Timeout:             mdnsTimeout,
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: true,
		}
		errc <- mdns.Query(params)
		close(entries)
	}()

	for entry := range entries {
		if entry.AddrV4 == nil {
			continue
		}
		name := strings.TrimSuffix(entry.Name, "."+service+".local.")
		s.logger.Debug("mdns entry", zap.String("service", service), zap.String("name", name), zap.Stringer("addr", entry.AddrV4))
		if ctx.Err() == nil {
			add(entry.AddrV4.String(), name)
		}
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("mdns %s: %w", service, err)
	}
	return ctx.Err()
}

func (s *Scanner) hueViaMDNS(ctx context.Context, add func(ip, name string)) error {
	return s.browse(ctx, "_hue._tcp", add)
}

func (s *Scanner) elgatoViaMDNS(ctx context.Context, add func(ip, name string)) error {
	return s.browse(ctx, "_elg._tcp", add)
}

type nupnpResult struct {
	ID                string `json:"id"`
	InternalIPAddress string `json:"internalipaddress"`
	Port              int    `json:"port"`
}

func (s *Scanner) hueViaCloud(ctx context.Context, add func(ip, name string)) error {
	var errs []error
	for _, url := range s.CloudURLs {
		results, err := s.fetchNUPnP(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
			continue
		}

		found := false
		for _, r := range results {
			if r.InternalIPAddress == "" {
				continue
			}
			name := "Hue Bridge"
			if len(r.ID) >= 6 {
				name = "Hue Bridge (" + r.ID[len(r.ID)-6:] + ")"
			}
			s.logger.Debug("n-upnp bridge", zap.String("ip", r.InternalIPAddress), zap.String("id", r.ID))
			add(r.InternalIPAddress, name)
			found = true
		}
		if found {
			return nil
		}
	}
	return errors.Join(errs...)
}

func (s *Scanner) fetchNUPnP(ctx context.Context, url string) ([]nupnpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("n-upnp %s: status %d", url, resp.StatusCode)
	}

	var results []nupnpResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&results); err != nil {
		return nil, fmt.Errorf("n-upnp %s: %w", url, err)
	}
	return results, nil
}

var ssdpTargets = []string{
	"ssdp:all",
	"urn:schemas-upnp-org:device:Basic:1",
	"upnp:rootdevice",
}

func (s *Scanner) hueViaSSDP(ctx context.Context, add func(ip, name string)) error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("ssdp: open socket: %w", err)
	}
	defer conn.Close()

	group, err := net.ResolveUDPAddr("udp4", "239.255.255.250:1900")
	if err != nil {
		return fmt.Errorf("ssdp: %w", err)
	}

	for _, st := range ssdpTargets {
		msg := "M-SEARCH * HTTP/1.1\r\n" +
			"HOST: 239.255.255.250:1900\r\n" +
			"MAN: \"ssdp:discover\"\r\n" +
			"ST: " + st + "\r\n" +
			"MX: 3\r\n" +
			"\r\n"
		if _, err := conn.WriteTo([]byte(msg), group); err != nil {
			return fmt.Errorf("ssdp: send %s: %w", st, err)
		}
	}

	deadline := time.Now().Add(ssdpWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 4096)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("ssdp: read: %w", err)
		}
		udp, ok := addr.(*net.UDPAddr)
		if !ok || !isHueSSDPResponse(buf[:n]) {
			continue
		}
		add(udp.IP.String(), "Hue Bridge")
	}
	return nil
}

func isHueSSDPResponse(b []byte) bool {
	upper := strings.ToUpper(string(b))
	return strings.Contains(upper, "IPBRIDGE") ||
		strings.Contains(upper, "PHILIPS") ||
		strings.Contains(upper, "HUE")
}

func (s *Scanner) hueViaSweep(ctx context.Context, add func(ip, name string)) error {
	client := &http.Client{
		Timeout: sweepTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return s.sweep(ctx, func(ctx context.Context, ip string) {
		if id := hueBridgeID(ctx, client, "https://"+ip+"/api/0/config"); id != "" {
			add(ip, "Hue Bridge ("+id+")")
		}
	})
}

func (s *Scanner) elgatoViaSweep(ctx context.Context, add func(ip, name string)) error {
	client := &http.Client{Timeout: sweepTimeout}
	return s.sweep(ctx, func(ctx context.Context, ip string) {
		if name := elgatoName(ctx, client, "http://"+ip+":9123/elgato/accessory-info"); name != "" {
			add(ip, name)
		}
	})
}

func (s *Scanner) sweep(ctx context.Context, check func(ctx context.Context, ip string)) error {
	subnets := localSubnets()
	if len(subnets) == 0 {
		return errors.New("sweep: no local /24 subnets")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepWorkers)
	for _, subnet := range subnets {
		s.logger.Info("probing subnet", zap.String("subnet", subnet+".0/24"))
		for i := 1; i <= 254; i++ {
			ip := fmt.Sprintf("%s.%d", subnet, i)
			g.Go(func() error {
				check(gctx, ip)
				return gctx.Err()
			})
		}
	}
	return g.Wait()
}

func hueBridgeID(ctx context.Context, client *http.Client, url string) string {
	var cfg struct {
		BridgeID string `json:"bridgeid"`
	}
	if !getJSON(ctx, client, url, &cfg) {
		return ""
	}
	return cfg.BridgeID
}

func elgatoName(ctx context.Context, client *http.Client, url string) string {
	var info struct {
		ProductName string `json:"productName"`
		DisplayName string `json:"displayName"`
	}
	if !getJSON(ctx, client, url, &info) {
		return ""
	}
	if info.DisplayName != "" {
		return info.DisplayName
	}
	if info.ProductName != "" {
		return info.ProductName
	}
	return "Elgato Light"
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(v) == nil
}

func localSubnets() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var subnets []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil {
				continue
			}
			ones, bits := ipNet.Mask.Size()
			if ones == 0 || bits == 0 || ones > 24 {
				continue
			}
			subnets = append(subnets, fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2]))
		}
	}
	return subnets
}
