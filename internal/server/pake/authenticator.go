package pake

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/cryptox"
	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/models"
	"github.com/lightldap/lightldap/internal/server/repositories/credentials"
	"github.com/lightldap/lightldap/internal/server/repositories/users"
)

// DefaultExchangeTTL bounds a protocol run: the finish message must arrive
// within this window of the start.
const DefaultExchangeTTL = 2 * time.Minute

// CombinedSuite is a suite usable from both ends of the exchange.
type CombinedSuite interface {
	Suite
	ClientSuite
}

// Keys narrows the key-management capability to what the authenticator needs.
type Keys interface {
	KeyRef() string
	DecoySeed() []byte
}

// Authenticator drives the two-round-trip registration and login exchanges
// against the credential store. Every login failure, whether a wrong proof,
// an unknown user or an expired exchange, surfaces as common.ErrInvalidCredentials with an
// identical shape.
type Authenticator struct {
	suite     CombinedSuite
	users     users.Repository
	store     credentials.Repository
	keys      Keys
	ttl       time.Duration
	logger    logging.Logger
	exchanges *exchangeTable

	decoyOnce sync.Once
	decoyVer  []byte
	decoyErr  error
}

// NewAuthenticator wires the authenticator. ttl <= 0 selects
// DefaultExchangeTTL.
func NewAuthenticator(suite CombinedSuite, ur users.Repository, cr credentials.Repository, k Keys, ttl time.Duration, l logging.Logger) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultExchangeTTL
	}
	return &Authenticator{
		suite:     suite,
		users:     ur,
		store:     cr,
		keys:      k,
		ttl:       ttl,
		logger:    l.With("module", "pake"),
		exchanges: newExchangeTable(),
	}
}

// RegisterStart begins a registration exchange for an existing user and
// returns the exchange id (which doubles as the pending-registration token)
// and the server's registration response.
func (a *Authenticator) RegisterStart(ctx context.Context, username string, request []byte) (string, []byte, error) {
	a.exchanges.sweep(time.Now())

	user, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		return "", nil, err
	}

	state, reply, err := a.suite.RegisterStart(request)
	if err != nil {
		return "", nil, err
	}

	id, err := common.MakeRandHexString(16)
	if err != nil {
		return "", nil, common.ErrInternal
	}
	if err := a.store.BeginRegistration(ctx, user.ID, id, time.Now().Add(a.ttl)); err != nil {
		return "", nil, err
	}

	a.exchanges.put(&Exchange{
		ID:         id,
		Username:   user.UserName,
		UserID:     user.ID,
		kind:       kindRegister,
		state:      StateAwaitingClientFinish,
		suiteState: state,
		expiresAt:  time.Now().Add(a.ttl),
	})
	return id, reply, nil
}

// RegisterFinish consumes the client's credential upload and commits the
// resulting verifier. A commit race surfaces as common.ErrVersionConflict
// and leaves no partial live state; the exchange is terminal either way.
func (a *Authenticator) RegisterFinish(ctx context.Context, exchangeID string, upload []byte) error {
	e, err := a.exchanges.take(exchangeID)
	if err != nil || e.kind != kindRegister {
		return common.ErrInvalidCredentials
	}
	if e.expired(time.Now()) {
		e.state = StateExpired
		return common.ErrExpiredExchange
	}

	verifier, err := a.suite.RegisterFinish(e.suiteState, upload)
	if err != nil {
		e.state = StateFailed
		return fmt.Errorf("registration aborted: %w", err)
	}

	cred := &models.Credential{
		UserID:   e.UserID,
		Scheme:   models.SchemeOpaque,
		Verifier: verifier,
		KeyRef:   a.keys.KeyRef(),
	}
	if err := a.store.CommitRegistration(ctx, e.UserID, e.ID, cred); err != nil {
		e.state = StateFailed
		return err
	}
	e.state = StateSucceeded
	a.logger.Info(ctx, "credential registered", "user", e.Username)
	return nil
}

// LoginStart begins a login exchange. An unknown user, or one without a
// PAKE credential, gets the decoy verifier and runs the identical code path.
func (a *Authenticator) LoginStart(ctx context.Context, username string, request []byte) (string, []byte, error) {
	a.exchanges.sweep(time.Now())

	verifier, userID, decoy := a.lookupVerifier(ctx, username)

	state, reply, err := a.suite.LoginStart(verifier, request)
	if err != nil {
		return "", nil, common.ErrInvalidCredentials
	}

	id, err := common.MakeRandHexString(16)
	if err != nil {
		return "", nil, common.ErrInternal
	}
	a.exchanges.put(&Exchange{
		ID:         id,
		Username:   username,
		UserID:     userID,
		kind:       kindLogin,
		state:      StateAwaitingClientFinish,
		decoy:      decoy,
		suiteState: state,
		expiresAt:  time.Now().Add(a.ttl),
	})
	return id, reply, nil
}

// LoginFinish verifies the client's proof. On success the per-exchange
// session key is wiped and only the authenticated identity is returned; no
// secret leaks back to the caller.
func (a *Authenticator) LoginFinish(ctx context.Context, exchangeID string, proof []byte) (string, error) {
	e, err := a.exchanges.take(exchangeID)
	if err != nil || e.kind != kindLogin {
		return "", common.ErrInvalidCredentials
	}
	if e.expired(time.Now()) {
		e.state = StateExpired
		return "", common.ErrInvalidCredentials
	}

	sessionKey, err := a.suite.LoginFinish(e.suiteState, proof)
	if err != nil || e.decoy {
		e.state = StateFailed
		return "", common.ErrInvalidCredentials
	}
	common.WipeByteArray(sessionKey)
	e.state = StateSucceeded
	a.logger.Info(ctx, "login succeeded", "user", e.Username)
	return e.Username, nil
}

// VerifyPassword checks a plaintext password (simple bind over an encrypted
// transport) against the stored credential. An argon2 credential is compared
// directly; a PAKE credential is verified by running the exchange in-process
// with the server playing both sides. Unknown users run against the decoy
// verifier so the failure is indistinguishable.
func (a *Authenticator) VerifyPassword(ctx context.Context, username, password string) error {
	verifier, _, decoy := a.lookupVerifier(ctx, username)

	if !decoy {
		if user, err := a.users.GetByUsername(ctx, username); err == nil {
			if cred, err := a.store.Get(ctx, user.ID); err == nil && cred.Scheme == models.SchemeArgon2 {
				if cryptox.VerifyPassword(cred.Verifier, []byte(password)) {
					return nil
				}
				return common.ErrInvalidCredentials
			}
		}
	}

	if err := a.loopback(username, password, verifier); err != nil || decoy {
		return common.ErrInvalidCredentials
	}
	return nil
}

// loopback runs the full login exchange in-process against a verifier.
func (a *Authenticator) loopback(username, password string, verifier []byte) error {
	cState, request, err := a.suite.ClientLoginStart(username, password)
	if err != nil {
		return err
	}
	sState, reply, err := a.suite.LoginStart(verifier, request)
	if err != nil {
		return err
	}
	proof, clientKey, err := a.suite.ClientLoginFinish(cState, reply)
	if err != nil {
		return err
	}
	common.WipeByteArray(clientKey)
	serverKey, err := a.suite.LoginFinish(sState, proof)
	if err != nil {
		return err
	}
	common.WipeByteArray(serverKey)
	return nil
}

// lookupVerifier returns the user's PAKE verifier, or the decoy one when the
// user is unknown or has no usable record. The code path is structurally
// identical in both cases.
func (a *Authenticator) lookupVerifier(ctx context.Context, username string) (verifier []byte, userID string, decoy bool) {
	var cred *models.Credential
	user, err := a.users.GetByUsername(ctx, username)
	if err == nil {
		cred, err = a.store.Get(ctx, user.ID)
	}
	if err != nil || cred == nil || cred.Scheme != models.SchemeOpaque || len(cred.Verifier) == 0 {
		return a.decoyVerifier(), "", true
	}
	return cred.Verifier, user.ID, false
}

// decoyVerifier synthesizes, once per process, a verifier for a nonexistent
// identity from the fixed decoy seed. Every unknown-user login runs against
// it through the normal code path.
func (a *Authenticator) decoyVerifier() []byte {
	a.decoyOnce.Do(func() {
		password := hex.EncodeToString(a.keys.DecoySeed())
		a.decoyVer, a.decoyErr = a.register("decoy", password)
		if a.decoyErr != nil {
			a.logger.Error(context.Background(), "decoy verifier synthesis failed", "error", a.decoyErr)
		}
	})
	return a.decoyVer
}

// register runs the registration exchange in-process and returns the verifier.
func (a *Authenticator) register(username, password string) ([]byte, error) {
	cState, request, err := a.suite.ClientRegisterStart(username, password)
	if err != nil {
		return nil, err
	}
	sState, reply, err := a.suite.RegisterStart(request)
	if err != nil {
		return nil, err
	}
	upload, err := a.suite.ClientRegisterFinish(cState, reply)
	if err != nil {
		return nil, err
	}
	return a.suite.RegisterFinish(sState, upload)
}

// ErrIsAuthFailure reports whether err is one of the opaque authentication
// failures (as opposed to an infrastructure error).
func ErrIsAuthFailure(err error) bool {
	return errors.Is(err, common.ErrInvalidCredentials) || errors.Is(err, common.ErrExpiredExchange)
}
