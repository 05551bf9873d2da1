// Package network holds the agent's links to the lab server: the bootstrap
// API client, the relay websocket client and LAN discovery.
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"labwatch/internal/domain"
)

// ErrNoHardwareAddress is returned when no usable interface has a MAC
var ErrNoHardwareAddress = errors.New("no network interface with a hardware address")

// DiscoveredServer is a lab server found on the local subnet
type DiscoveredServer struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Addr returns the host:port form
func (d DiscoveredServer) Addr() string {
	return net.JoinHostPort(d.IP, fmt.Sprint(d.Port))
}

// GetLocalIP returns the primary local IP address
func GetLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

// HardwareAddress returns the normalized MAC of the first interface that is
// up, not loopback and has a hardware address. Interfaces are taken in
// index order so the choice is stable across restarts.
func HardwareAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Index < ifaces[j].Index })
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return domain.NormalizeHardwareAddress(iface.HardwareAddr.String()), nil
	}
	return "", ErrNoHardwareAddress
}

// ScanLAN probes every address on the local /24 for a lab server on port
func ScanLAN(ctx context.Context, port int) ([]DiscoveredServer, error) {
	localIP, err := GetLocalIP()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IP: %w", err)
	}

	parts := strings.Split(localIP, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid IP address format: %s", localIP)
	}
	subnet := fmt.Sprintf("%s.%s.%s", parts[0], parts[1], parts[2])

	var servers []DiscoveredServer
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 1; i <= 254; i++ {
		wg.Add(1)
		go func(hostNum int) {
			defer wg.Done()

			ip := fmt.Sprintf("%s.%d", subnet, hostNum)
			if ip == localIP {
				return
			}
			if probeServer(ctx, net.JoinHostPort(ip, fmt.Sprint(port))) {
				mu.Lock()
				servers = append(servers, DiscoveredServer{IP: ip, Port: port})
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	sort.Slice(servers, func(i, j int) bool { return servers[i].IP < servers[j].IP })
	return servers, nil
}

// probeServer reports whether addr answers /health as a lab server
func probeServer(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", "http://"+addr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health struct {
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Service == ServiceName
}

// ServiceName is reported by the server's health endpoint
const ServiceName = "labwatch"
