package upload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/intelcon-group/triptracker/pkg/device/modem"
)

const (
	netopenTimeout = 10 * time.Second
	cipopenTimeout = 15 * time.Second
	cipsendTimeout = 10 * time.Second
)

// socket is one TCP-over-modem connection: opening the bearer, opening
// the socket, and moving bytes over it via the modem's receive buffer.
type socket struct {
	transport *modem.Transport
	connID int
	recv *modem.RecvBuffer
}

// dial brings up the cellular bearer (if not already) and opens a TCP
// socket to host:port, returning a socket bound to the assigned
// connection id. Held under a single Txn.
func dial(txn *modem.Txn, transport *modem.Transport, host string, port int) (*socket, error) {
	if _, err := txn.Send("AT+NETOPEN?", true, netopenTimeout); err != nil {
		_, urc, err := txn.InterrogateURC("AT+NETOPEN", "NETOPEN", netopenTimeout)
		if err != nil {
			return nil, err
		}
		if code := ParseNetCode(urc.Body); code != NetSuccess {
			return nil, NetError{Code: code}
		}
	}

	cmd := fmt.Sprintf("AT+CIPOPEN=0,\"TCP\",\"%s\",%d", host, port)
	_, urc, err := txn.InterrogateURC(cmd, "CIPOPEN", cipopenTimeout)
	if err != nil {
		return nil, err
	}
	connID, code, err := parseCipopenBody(urc.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if code != NetSuccess {
		return nil, NetError{Code: code}
	}

	return &socket{
		transport: transport,
		connID: connID,
		recv: transport.RecvBufferFor(connID),
	}, nil
}

// parseCipopenBody parses "<conn>,<result>" from a +CIPOPEN URC.
func parseCipopenBody(body string) (conn int, code NetCode, err error) {
	parts := strings.SplitN(body, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed CIPOPEN body %q", body)
	}
	conn, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	return conn, ParseNetCode(parts[1]), nil
}

// write sends data over the socket via CIPSEND.
func (s *socket) write(txn *modem.Txn, data []byte) error {
	return txn.CipSendBytes(s.connID, data, cipsendTimeout)
}

// readExact blocks (bounded by timeout) until exactly len(out) bytes
// have arrived on this connection's receive buffer.
func (s *socket) readExact(out []byte, timeout time.Duration) error {
	if !s.recv.ReadExactTimeout(out, timeout) {
		return NetError{Code: NetTimeout}
	}
	return nil
}

// close drops the connection's receive buffer and issues CIPCLOSE.
func (s *socket) close(txn *modem.Txn) {
	_, _ = txn.Send(fmt.Sprintf("AT+CIPCLOSE=%d", s.connID), false, cipsendTimeout)
	s.transport.DropRecvBuffer(s.connID)
}
