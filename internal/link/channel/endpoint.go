package channel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
	"go.bug.st/serial"
)

// EndpointKind selects the gomavlib transport.
type EndpointKind string

const (
	UDPServer    EndpointKind = "udps"
	UDPClient    EndpointKind = "udpc"
	UDPBroadcast EndpointKind = "udpb"
	TCPServer    EndpointKind = "tcps"
	TCPClient    EndpointKind = "tcpc"
	Serial       EndpointKind = "serial"
)

const DefaultSerialBaud = 57600

// Endpoint is a parsed transport description such as "udps:0.0.0.0:14550"
// or "serial:/dev/ttyACM0:115200".
type Endpoint struct {
	Kind    EndpointKind
	Address string
	Baud    int
}

// ParseEndpoint reads "<kind>:<address>" (serial: "serial:<device>[:<baud>]").
func ParseEndpoint(s string) (Endpoint, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || rest == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q, want <kind>:<address>", s)
	}

	ep := Endpoint{Kind: EndpointKind(kind), Address: rest}
	switch ep.Kind {
	case UDPServer, UDPClient, UDPBroadcast, TCPServer, TCPClient:
		if !strings.Contains(rest, ":") {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: address must be host:port", s)
		}
	case Serial:
		ep.Baud = DefaultSerialBaud
		if i := strings.LastIndex(rest, ":"); i > 0 {
			baud, err := strconv.Atoi(rest[i+1:])
			if err != nil || baud <= 0 {
				return Endpoint{}, fmt.Errorf("invalid baud rate in %q", s)
			}
			ep.Address, ep.Baud = rest[:i], baud
		}
	default:
		return Endpoint{}, fmt.Errorf("unknown endpoint kind %q", kind)
	}
	return ep, nil
}

// ParseEndpoints parses every entry of list.
func ParseEndpoints(list []string) ([]Endpoint, error) {
	eps := make([]Endpoint, 0, len(list))
	for _, s := range list {
		ep, err := ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

func (e Endpoint) String() string {
	if e.Kind == Serial {
		return fmt.Sprintf("%s:%s:%d", e.Kind, e.Address, e.Baud)
	}
	return fmt.Sprintf("%s:%s", e.Kind, e.Address)
}

func (e Endpoint) conf() (gomavlib.EndpointConf, error) {
	switch e.Kind {
	case UDPServer:
		return gomavlib.EndpointUDPServer{Address: e.Address}, nil
	case UDPClient:
		return gomavlib.EndpointUDPClient{Address: e.Address}, nil
	case UDPBroadcast:
		return gomavlib.EndpointUDPBroadcast{BroadcastAddress: e.Address}, nil
	case TCPServer:
		return gomavlib.EndpointTCPServer{Address: e.Address}, nil
	case TCPClient:
		return gomavlib.EndpointTCPClient{Address: e.Address}, nil
	case Serial:
		port, err := serial.Open(e.Address, &serial.Mode{
			BaudRate: e.Baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("open serial port: %w", err)
		}
		return gomavlib.EndpointCustom{ReadWriteCloser: port}, nil
	}
	return nil, fmt.Errorf("unknown endpoint kind %q", e.Kind)
}
