package pake

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/frekui/opaque"
)

// clientKeyBits sizes the client key generated during registration.
const clientKeyBits = 2048

// OpaqueSuite implements Suite and ClientSuite on top of
// github.com/frekui/opaque. Protocol messages are carried as JSON, the
// serialization the library's own examples use; the stored verifier is the
// JSON-encoded opaque.User record.
type OpaqueSuite struct {
	priv *rsa.PrivateKey
}

// NewOpaqueSuite binds the suite to the server's private key.
func NewOpaqueSuite(key ServerKey) *OpaqueSuite {
	return &OpaqueSuite{priv: key.ServerPrivateKey()}
}

func (s *OpaqueSuite) RegisterStart(request []byte) (any, []byte, error) {
	var msg1 opaque.PwRegMsg1
	if err := json.Unmarshal(request, &msg1); err != nil {
		return nil, nil, fmt.Errorf("pake: malformed registration request: %w", err)
	}
	sess, msg2, err := opaque.PwReg1(s.priv, msg1)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: registration start: %w", err)
	}
	reply, err := json.Marshal(msg2)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	return sess, reply, nil
}

func (s *OpaqueSuite) RegisterFinish(state any, upload []byte) ([]byte, error) {
	sess, ok := state.(*opaque.PwRegServerSession)
	if !ok {
		return nil, fmt.Errorf("pake: registration state mismatch")
	}
	var msg3 opaque.PwRegMsg3
	if err := json.Unmarshal(upload, &msg3); err != nil {
		return nil, fmt.Errorf("pake: malformed registration upload: %w", err)
	}
	user := opaque.PwReg3(sess, msg3)
	verifier, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("pake: %w", err)
	}
	return verifier, nil
}

func (s *OpaqueSuite) LoginStart(verifier, request []byte) (any, []byte, error) {
	var user opaque.User
	if err := json.Unmarshal(verifier, &user); err != nil {
		return nil, nil, fmt.Errorf("pake: corrupt verifier record: %w", err)
	}
	var msg1 opaque.AuthMsg1
	if err := json.Unmarshal(request, &msg1); err != nil {
		return nil, nil, fmt.Errorf("pake: malformed login request: %w", err)
	}
	sess, msg2, err := opaque.Auth1(s.priv, &user, msg1)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: login start: %w", err)
	}
	reply, err := json.Marshal(msg2)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	return sess, reply, nil
}

func (s *OpaqueSuite) LoginFinish(state any, proof []byte) ([]byte, error) {
	sess, ok := state.(*opaque.AuthServerSession)
	if !ok {
		return nil, fmt.Errorf("pake: login state mismatch")
	}
	var msg3 opaque.AuthMsg3
	if err := json.Unmarshal(proof, &msg3); err != nil {
		return nil, fmt.Errorf("pake: malformed login proof: %w", err)
	}
	sessionKey, err := opaque.Auth3(sess, msg3)
	if err != nil {
		return nil, fmt.Errorf("pake: proof verification failed: %w", err)
	}
	return sessionKey, nil
}

// Client side, used for the decoy verifier and in-process simple binds.

func (s *OpaqueSuite) ClientRegisterStart(username, password string) (any, []byte, error) {
	sess, msg1, err := opaque.PwRegInit(username, password, clientKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	request, err := json.Marshal(msg1)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	return sess, request, nil
}

func (s *OpaqueSuite) ClientRegisterFinish(state any, reply []byte) ([]byte, error) {
	sess, ok := state.(*opaque.PwRegClientSession)
	if !ok {
		return nil, fmt.Errorf("pake: registration state mismatch")
	}
	var msg2 opaque.PwRegMsg2
	if err := json.Unmarshal(reply, &msg2); err != nil {
		return nil, fmt.Errorf("pake: %w", err)
	}
	msg3, err := opaque.PwReg2(sess, msg2)
	if err != nil {
		return nil, fmt.Errorf("pake: %w", err)
	}
	upload, err := json.Marshal(msg3)
	if err != nil {
		return nil, fmt.Errorf("pake: %w", err)
	}
	return upload, nil
}

func (s *OpaqueSuite) ClientLoginStart(username, password string) (any, []byte, error) {
	sess, msg1, err := opaque.AuthInit(username, password)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	request, err := json.Marshal(msg1)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	return sess, request, nil
}

func (s *OpaqueSuite) ClientLoginFinish(state any, reply []byte) ([]byte, []byte, error) {
	sess, ok := state.(*opaque.AuthClientSession)
	if !ok {
		return nil, nil, fmt.Errorf("pake: login state mismatch")
	}
	var msg2 opaque.AuthMsg2
	if err := json.Unmarshal(reply, &msg2); err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	sessionKey, msg3, err := opaque.Auth2(sess, msg2)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	proof, err := json.Marshal(msg3)
	if err != nil {
		return nil, nil, fmt.Errorf("pake: %w", err)
	}
	return proof, sessionKey, nil
}
