package enclave

import "encoding/json"

// Paths served on the daemon socket.
const (
	PathKeysGenerate = "/rofl/v1/keys/generate"
	PathSignSubmit   = "/rofl/v1/tx/sign-submit"
	PathStateCall    = "/rofl/v1/state/call"
	PathInfo         = "/rofl/v1/app/id"
)

const KindSecp256k1 = "secp256k1"

type KeyRequest struct {
	KeyID string `json:"key_id"`
	Kind  string `json:"kind"`
}

// KeyResponse carries the address only; private keys never leave the daemon.
type KeyResponse struct {
	KeyID   string `json:"key_id"`
	Address string `json:"address"`
}

type SignSubmitRequest struct {
	KeyID  string          `json:"key_id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// StateCallRequest is signed with KeyID when set, otherwise sent unsigned.
type StateCallRequest struct {
	KeyID  string          `json:"key_id,omitempty"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type StateCallResponse struct {
	Result json.RawMessage `json:"result"`
}

type InfoResponse struct {
	AppID       string `json:"app_id"`
	Attestation string `json:"attestation_key"`
}
