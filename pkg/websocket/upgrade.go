package websocket

import (
	"encoding/base64"
	"strings"

	"github.com/WhileEndless/go-netserver/pkg/errors"
	"github.com/WhileEndless/go-netserver/pkg/http"
)

// UpgradeResult classifies a server-side upgrade attempt.
type UpgradeResult int

const (
	// UpgradeNotWebSocket: none of the four upgrade headers is present;
	// the request is ordinary HTTP and falls through to normal handling.
	UpgradeNotWebSocket UpgradeResult = iota

	// UpgradeRejected: the request tried to upgrade but a required header
	// is missing or wrong; a 400 response describes the problem.
	UpgradeRejected

	// UpgradeAccepted: the handshake is valid; a 101 response switches
	// protocols.
	UpgradeAccepted
)

// headerContains reports whether a comma-separated header value contains
// token, compared case-insensitively (so "keep-alive, Upgrade" matches
// "Upgrade").
func headerContains(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// CheckServerUpgrade validates an HTTP request as a WebSocket upgrade.
// On UpgradeAccepted the returned response is the 101 reply carrying the
// computed Sec-WebSocket-Accept; on UpgradeRejected it is a 400 with a
// descriptive reason; on UpgradeNotWebSocket it is nil.
func CheckServerUpgrade(req *http.Request) (UpgradeResult, *http.Response) {
	connection, hasConnection := req.Header("Connection")
	upgrade, hasUpgrade := req.Header("Upgrade")
	key, hasKey := req.Header("Sec-WebSocket-Key")
	version, hasVersion := req.Header("Sec-WebSocket-Version")

	if !hasConnection && !hasUpgrade && !hasKey && !hasVersion {
		return UpgradeNotWebSocket, nil
	}

	reject := func(reason string) (UpgradeResult, *http.Response) {
		return UpgradeRejected, http.MakeErrorResponse(400, reason)
	}

	if !hasConnection || !headerContains(connection, "Upgrade") {
		return reject("'Connection: Upgrade' header is required")
	}
	if !hasUpgrade || !strings.EqualFold(upgrade, "websocket") {
		return reject("'Upgrade: websocket' header is required")
	}
	if !hasKey || key == "" {
		return reject("'Sec-WebSocket-Key' header is required")
	}
	if !hasVersion || version != "13" {
		return reject("'Sec-WebSocket-Version' must be 13")
	}

	resp := http.NewResponse().
		SetBegin(101).
		SetHeader("Connection", "Upgrade").
		SetHeader("Upgrade", "websocket").
		SetHeader("Sec-WebSocket-Accept", AcceptKey(key)).
		SetEmptyBody()
	return UpgradeAccepted, resp
}

// makeUpgradeRequest builds the client side of the handshake for the given
// target using the engine's nonce.
func (e *Engine) makeUpgradeRequest(host, target string) *http.Request {
	return http.NewRequest().
		SetBegin("GET", target).
		SetHeader("Host", host).
		SetHeader("Upgrade", "websocket").
		SetHeader("Connection", "Upgrade").
		SetHeader("Sec-WebSocket-Key", base64.StdEncoding.EncodeToString(e.nonce[:])).
		SetHeader("Sec-WebSocket-Version", "13").
		SetEmptyBody()
}

// checkClientUpgrade validates the server's 101 response against the
// engine's nonce. Returns nil on success.
func (e *Engine) checkClientUpgrade(resp *http.Response) error {
	if resp.Status() != 101 {
		return newProtocolError("upgrade refused: status " + resp.StatusPhrase())
	}
	if connection, ok := resp.Header("Connection"); !ok || !headerContains(connection, "Upgrade") {
		return newProtocolError("upgrade response missing 'Connection: Upgrade'")
	}
	if upgrade, ok := resp.Header("Upgrade"); !ok || !strings.EqualFold(upgrade, "websocket") {
		return newProtocolError("upgrade response missing 'Upgrade: websocket'")
	}
	expected := AcceptKey(base64.StdEncoding.EncodeToString(e.nonce[:]))
	if accept, ok := resp.Header("Sec-WebSocket-Accept"); !ok || accept != expected {
		return newProtocolError("invalid Sec-WebSocket-Accept value")
	}
	return nil
}

func newProtocolError(message string) error {
	return errors.NewProtocolError(message, nil)
}
