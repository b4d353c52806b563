package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/goburrow/modbus"
)

// Endpoint 裝置位址
type Endpoint struct {
	Host   string
	Port   int
	UnitID uint8
}

// Address 返回 host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%d", e.Address(), e.UnitID)
}

// transport 單一 Modbus TCP 連線
type transport interface {
	Connect() error
	Close() error
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// DialFunc 為指定端點建立新的連線物件 (尚未連線)
type DialFunc func(ep Endpoint, timeout time.Duration) transport

// tcpTransport goburrow TCP 客戶端
type tcpTransport struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// dialTCP 預設的 DialFunc
func dialTCP(ep Endpoint, timeout time.Duration) transport {
	handler := modbus.NewTCPClientHandler(ep.Address())
	handler.Timeout = timeout
	handler.SlaveId = ep.UnitID
	return &tcpTransport{
		handler: handler,
		client:  modbus.NewClient(handler),
	}
}

func (t *tcpTransport) Connect() error {
	return t.handler.Connect()
}

func (t *tcpTransport) Close() error {
	return t.handler.Close()
}

func (t *tcpTransport) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return t.client.ReadHoldingRegisters(address, quantity)
}
