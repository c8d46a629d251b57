// Package pake drives the password-authenticated key-exchange flows for
// registration and login. The cryptographic protocol itself is consumed as a
// capability (Suite); this package owns the exchange lifecycle, the decoy
// path for unknown users, and the coupling to the credential store.
package pake

import "crypto/rsa"

// Suite is the server side of the PAKE capability. Messages are opaque byte
// slices produced and consumed by the matching client implementation; state
// handles are opaque in-memory values that never cross the process boundary.
type Suite interface {
	// RegisterStart processes the client's blinded registration request and
	// returns the server's registration response.
	RegisterStart(request []byte) (state any, reply []byte, err error)

	// RegisterFinish processes the client's credential upload and returns
	// the password-verifier record to persist.
	RegisterFinish(state any, upload []byte) (verifier []byte, err error)

	// LoginStart processes the client's blinded login request against a
	// stored verifier and returns the server's credential response.
	LoginStart(verifier, request []byte) (state any, reply []byte, err error)

	// LoginFinish verifies the client's proof and, on success, returns the
	// per-exchange shared session key.
	LoginFinish(state any, proof []byte) (sessionKey []byte, err error)
}

// ClientSuite is the client side of the capability. The server itself needs
// it in two places: synthesizing the decoy verifier at startup, and
// verifying simple binds by running the exchange in-process against the
// stored verifier.
type ClientSuite interface {
	ClientRegisterStart(username, password string) (state any, request []byte, err error)
	ClientRegisterFinish(state any, reply []byte) (upload []byte, err error)
	ClientLoginStart(username, password string) (state any, request []byte, err error)
	ClientLoginFinish(state any, reply []byte) (proof, sessionKey []byte, err error)
}

// ServerKey narrows the key-management capability to what the suite needs.
type ServerKey interface {
	ServerPrivateKey() *rsa.PrivateKey
}
