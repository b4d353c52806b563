//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// linuxProvisioner 以 netlink 配置位址
type linuxProvisioner struct {
	baseProvisioner
	link netlink.Link
}

func newPlatformProvisioner(base baseProvisioner) AddressProvisioner {
	return &linuxProvisioner{baseProvisioner: base}
}

func (p *linuxProvisioner) resolveLink() (netlink.Link, error) {
	if p.link != nil {
		return p.link, nil
	}
	link, err := netlink.LinkByName(p.interfaceName)
	if err != nil {
		return nil, fmt.Errorf("找不到網路介面 %s: %w", p.interfaceName, err)
	}
	p.link = link
	return link, nil
}

// Add 添加位址
func (p *linuxProvisioner) Add(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	link, err := p.resolveLink()
	if err != nil {
		return err
	}

	addr := &netlink.Addr{IPNet: p.address}
	if err := netlink.AddrAdd(link, addr); err != nil {
		if errors.Is(err, syscall.EEXIST) {
			p.logger.Debug("位址已存在", zap.Stringer("address", p.address))
			return nil
		}
		return fmt.Errorf("添加位址 %s 失敗: %w", p.address, err)
	}

	p.added = true
	p.logger.Info("已添加位址",
		zap.String("interface", p.interfaceName),
		zap.Stringer("address", p.address),
	)
	return nil
}

// Remove 移除位址，只移除自己添加的
func (p *linuxProvisioner) Remove(ctx context.Context) error {
	if !p.added {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	link, err := p.resolveLink()
	if err != nil {
		return err
	}

	if err := netlink.AddrDel(link, &netlink.Addr{IPNet: p.address}); err != nil {
		return fmt.Errorf("移除位址 %s 失敗: %w", p.address, err)
	}

	p.added = false
	p.logger.Info("已移除位址",
		zap.String("interface", p.interfaceName),
		zap.Stringer("address", p.address),
	)
	return nil
}

// List 列出介面上的 IPv4 位址
func (p *linuxProvisioner) List(ctx context.Context) ([]net.IP, error) {
	link, err := p.resolveLink()
	if err != nil {
		return nil, err
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("列出 IP 失敗: %w", err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return ips, nil
}
