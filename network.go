package main

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// AddressProvisioner 為模擬裝置在網路介面上配置 IP
type AddressProvisioner interface {
	// Add 添加位址，已存在時視為成功
	Add(ctx context.Context) error

	// Remove 移除由 Add 添加的位址
	Remove(ctx context.Context) error

	// List 列出介面上的 IPv4 位址
	List(ctx context.Context) ([]net.IP, error)
}

// NewAddressProvisioner 建立位址配置器
func NewAddressProvisioner(interfaceName, cidr string, logger *zap.Logger) (AddressProvisioner, error) {
	ipNet, err := parseHostCIDR(cidr)
	if err != nil {
		return nil, err
	}
	return newPlatformProvisioner(baseProvisioner{
		interfaceName: interfaceName,
		address:       ipNet,
		logger:        logger,
	}), nil
}

// baseProvisioner 共用欄位
type baseProvisioner struct {
	interfaceName string
	address       *net.IPNet
	added         bool
	logger        *zap.Logger
}

// parseHostCIDR 解析 "192.168.1.50/24" 並保留主機位址 (不套用遮罩)
func parseHostCIDR(cidr string) (*net.IPNet, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("無效的 CIDR: %s", cidr)
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("只支援 IPv4 位址: %s", cidr)
	}
	return &net.IPNet{IP: ip.To4(), Mask: ipNet.Mask}, nil
}
