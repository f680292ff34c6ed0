// Package wol builds and sends Wake-on-LAN magic packets.
package wol

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultBroadcastAddr is the standard WoL destination: UDP broadcast port 9.
const DefaultBroadcastAddr = "255.255.255.255:9"

// MagicPacket builds the 102-byte payload for the given MAC address:
// 6 bytes of 0xFF followed by 16 repetitions of the 6-byte MAC.
// Accepts "aa:bb:cc:dd:ee:ff", "aa-bb-...", or bare hex.
func MagicPacket(mac string) ([]byte, error) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(mac))
	if len(clean) != 12 {
		return nil, fmt.Errorf("wol: invalid MAC %q", mac)
	}
	hw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("wol: invalid MAC %q: %w", mac, err)
	}

	pkt := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		pkt = append(pkt, 0xFF)
	}
	for i := 0; i < 16; i++ {
		pkt = append(pkt, hw...)
	}
	return pkt, nil
}

// Send broadcasts a magic packet for mac to addr (DefaultBroadcastAddr if empty).
// The socket is opened with SO_BROADCAST, which broadcast UDP requires.
func Send(mac, addr string) error {
	pkt, err := MagicPacket(mac)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = DefaultBroadcastAddr
	}

	dialer := net.Dialer{
		Timeout: 2 * time.Second,
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := dialer.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("wol: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(pkt); err != nil {
		return fmt.Errorf("wol: send to %s: %w", addr, err)
	}
	return nil
}
