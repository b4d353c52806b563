//go:build !linux

package main

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// stubProvisioner 非 Linux 平台只記錄不配置
type stubProvisioner struct {
	baseProvisioner
}

func newPlatformProvisioner(base baseProvisioner) AddressProvisioner {
	return &stubProvisioner{baseProvisioner: base}
}

// Add 位址配置僅在 Linux 上支援
func (p *stubProvisioner) Add(ctx context.Context) error {
	p.logger.Warn("位址配置僅在 Linux 上支援，略過",
		zap.String("interface", p.interfaceName),
		zap.Stringer("address", p.address),
	)
	return nil
}

// Remove 無動作
func (p *stubProvisioner) Remove(ctx context.Context) error {
	return nil
}

// List 返回本機非 loopback 的 IPv4 位址
func (p *stubProvisioner) List(ctx context.Context) ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("取得本地 IP 失敗: %w", err)
	}

	var ips []net.IP
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			ips = append(ips, ipNet.IP)
		}
	}
	return ips, nil
}
