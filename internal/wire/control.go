package wire

import "encoding/json"

// LoginRequest is the JSON text frame sent once, immediately after the
// upstream websocket connects, before any binary envelopes are
// accepted. Mirrors the bearer-credential handshake the go-upstox
// reference client performs over its REST auth step, folded into the
// socket handshake for this relay's simpler broker contract.
type LoginRequest struct {
	Method string `json:"method"`
	Token  string `json:"token"`
}

// SubscribeCommand is the JSON text frame used to add, remove, or
// re-mode instrument subscriptions on the upstream connection.
type SubscribeCommand struct {
	Method string              `json:"method"` // "sub" | "unsub" | "mode"
	Data   SubscribeCommandData `json:"data"`
}

type SubscribeCommandData struct {
	InstrumentKeys []string `json:"instrumentKeys"`
	Mode           string   `json:"mode,omitempty"` // "full" | "ltpc"
}

// EncodeSubscribe builds a "sub" command for the given keys.
func EncodeSubscribe(keys []string, mode string) ([]byte, error) {
	return json.Marshal(SubscribeCommand{
		Method: "sub",
		Data:   SubscribeCommandData{InstrumentKeys: keys, Mode: mode},
	})
}

// EncodeUnsubscribe builds an "unsub" command for the given keys.
func EncodeUnsubscribe(keys []string) ([]byte, error) {
	return json.Marshal(SubscribeCommand{
		Method: "unsub",
		Data:   SubscribeCommandData{InstrumentKeys: keys},
	})
}

// EncodeChangeMode builds a "mode" command for the given keys.
func EncodeChangeMode(keys []string, mode string) ([]byte, error) {
	return json.Marshal(SubscribeCommand{
		Method: "mode",
		Data:   SubscribeCommandData{InstrumentKeys: keys, Mode: mode},
	})
}
