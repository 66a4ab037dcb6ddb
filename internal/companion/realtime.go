package companion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Namespace and event of the companion's realtime feed
const (
	Namespace   = "/api/v1/realtime"
	StateUpdate = "state-update"
)

// engine.io packet types
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// socket.io packet types, carried inside an engine.io message
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

var errMalformedPacket = errors.New("malformed socket.io packet")

// packet is a decoded engine.io/socket.io frame
type packet struct {
	engine    byte
	socket    byte
	namespace string
	payload   []byte
}

// decodePacket splits "<eio><sio>[/nsp,][ackid]<json>"
func decodePacket(data []byte) (packet, error) {
	if len(data) == 0 {
		return packet{}, errMalformedPacket
	}
	p := packet{engine: data[0]}
	if p.engine != eioMessage {
		p.payload = data[1:]
		return p, nil
	}
	if len(data) < 2 {
		return packet{}, errMalformedPacket
	}
	p.socket = data[1]
	rest := data[2:]

	p.namespace = "/"
	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			p.namespace = string(rest)
			return p, nil
		}
		p.namespace = string(rest[:end])
		rest = rest[end+1:]
	}
	// Ack ids are not used by this client
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		rest = rest[1:]
	}
	p.payload = rest
	return p, nil
}

func connectPacket(token string) ([]byte, error) {
	auth, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	return append([]byte(string(eioMessage)+string(sioConnect)+Namespace+","), auth...), nil
}

// event decodes an event payload ["name", arg]
func (p packet) event() (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(p.payload, &parts); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, errMalformedPacket
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(parts) < 2 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

// authFailure is the text the companion puts in a CONNECT_ERROR for a
// rejected token
const authFailure = "Authentication"

// connectError turns a CONNECT_ERROR payload into an error. Only an auth
// rejection maps to ErrUnauthorized; anything else is a plain failure.
func (p packet) connectError() error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(p.payload, &body)
	if strings.Contains(body.Message, authFailure) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, body.Message)
	}
	if body.Message == "" {
		return errors.New("namespace connect rejected")
	}
	return fmt.Errorf("namespace connect rejected: %s", body.Message)
}

// realtimeURL maps the companion base URL to its engine.io websocket endpoint
func realtimeURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse companion url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported companion url scheme: %q", u.Scheme)
	}
	u.Path = "/socket.io/"
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String(), nil
}
