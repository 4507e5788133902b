// Package observability holds helpers shared by the metrics and tracing exporters.
package observability

import "net"

// GetOutboundIP is the local address used to reach the outside, empty when offline.
func GetOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer func() {
		_ = conn.Close()
	}()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// Address joins the outbound IP with port, when port is set.
func Address(port string) string {
	address := GetOutboundIP()
	if port != "" {
		address = address + ":" + port
	}
	return address
}
