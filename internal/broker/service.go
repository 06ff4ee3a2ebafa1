package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	identitymodels "aidantsconnect/internal/identity/models"
	"aidantsconnect/internal/journal"
	mandatemodels "aidantsconnect/internal/mandate/models"
	"aidantsconnect/internal/platform/metrics"
	dErrors "aidantsconnect/pkg/domain-errors"
	"aidantsconnect/pkg/platform/sentinel"
	"aidantsconnect/pkg/secrets"
)

// ConnectionStore persists broker connections.
type ConnectionStore interface {
	Save(ctx context.Context, conn *Connection) error
	ByState(ctx context.Context, state string) (*Connection, error)
	ByCode(ctx context.Context, code string) (*Connection, error)
	ByAccessToken(ctx context.Context, token string) (*Connection, error)
}

// IdentityDirectory is the slice of the identity service the broker needs.
type IdentityDirectory interface {
	AidantByID(ctx context.Context, id uuid.UUID) (*identitymodels.Aidant, error)
	UsagerBySub(ctx context.Context, sub string) (*identitymodels.Usager, error)
	FindOrCreateUsager(ctx context.Context, aidant *identitymodels.Aidant, candidate *identitymodels.Usager) (*identitymodels.Usager, error)
	Initiator(ctx context.Context, aidant *identitymodels.Aidant) (string, error)
}

// AutorisationChecker answers whether an active autorisation covers a
// demarche for an organisation and usager pair.
type AutorisationChecker interface {
	ValidAutorisation(ctx context.Context, organisationID, usagerID uuid.UUID, demarche string) (*mandatemodels.Autorisation, error)
}

// AssertionSigner signs the identity assertion returned at token exchange.
type AssertionSigner interface {
	IdentityAssertion(sub, nonce string, now time.Time) (string, error)
}

// ClientCredentials are the static relying-party expectations. Every
// parameter of a token request must match them exactly.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

type Service struct {
	connections   ConnectionStore
	directory     IdentityDirectory
	autorisations AutorisationChecker
	journal       *journal.Service
	signer        AssertionSigner
	client        ClientCredentials
	connectionTTL time.Duration
	tokenTTL      time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(
	connections ConnectionStore,
	directory IdentityDirectory,
	autorisations AutorisationChecker,
	journalSvc *journal.Service,
	signer AssertionSigner,
	client ClientCredentials,
	connectionTTL, tokenTTL time.Duration,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		connections:   connections,
		directory:     directory,
		autorisations: autorisations,
		journal:       journalSvc,
		signer:        signer,
		client:        client,
		connectionTTL: connectionTTL,
		tokenTTL:      tokenTTL,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize opens a broker exchange. State and nonce are both mandatory and
// restricted to alphanumerics; a request without a usable state is refused
// outright since the relying party could never correlate the response.
func (s *Service) Authorize(ctx context.Context, state, nonce string) (*Connection, error) {
	if state == "" || !StatePattern.MatchString(state) {
		return nil, s.refuse(ctx, "authorize", "state is missing or malformed")
	}
	if nonce == "" || !StatePattern.MatchString(nonce) {
		return nil, s.refuse(ctx, "authorize", "nonce is missing or malformed")
	}

	code, err := secrets.GenerateToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate authorization code")
	}
	conn := &Connection{
		ID:        uuid.New(),
		State:     state,
		Nonce:     nonce,
		Code:      code,
		ExpiresOn: s.now().Add(s.connectionTTL),
	}
	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save connection")
	}

	s.logger.InfoContext(ctx, "broker exchange opened", "connection_id", conn.ID)
	if s.metrics != nil {
		s.metrics.ConnectionsStarted.Inc()
	}
	return conn, nil
}

// ChooseUsager binds the exchange to the usager the aidant acts for and the
// demarche at hand, then returns the redirect URL carrying code and state
// back to the relying party. The usager record is created on first sight.
func (s *Service) ChooseUsager(ctx context.Context, aidantID uuid.UUID, state string, candidate *identitymodels.Usager, demarche string, duree mandatemodels.DureeKeyword, mandatIsRemote bool) (string, error) {
	if demarche == "" {
		return "", dErrors.New(dErrors.CodeValidation, "demarche is required")
	}
	conn, err := s.connectionByState(ctx, "choose_usager", state)
	if err != nil {
		return "", err
	}

	aidant, err := s.directory.AidantByID(ctx, aidantID)
	if err != nil {
		return "", err
	}
	usager, err := s.directory.FindOrCreateUsager(ctx, aidant, candidate)
	if err != nil {
		return "", err
	}

	conn.AidantID = aidant.ID
	conn.UsagerSub = usager.Sub
	conn.Demarche = demarche
	conn.DureeKeyword = duree
	conn.MandatIsRemote = mandatIsRemote
	if err := s.connections.Save(ctx, conn); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to save connection")
	}

	redirect := fmt.Sprintf("%s?code=%s&state=%s",
		s.client.CallbackURL, url.QueryEscape(conn.Code), url.QueryEscape(conn.State))
	return redirect, nil
}

// TokenRequest carries the parameters of a token exchange.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the issued credential set. RefreshToken is present for
// wire compatibility; refresh is not supported and the value is single-shot
// random filler.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// ExchangeToken swaps an authorization code for an access token and a signed
// identity assertion. Every static parameter must match the configured
// relying party exactly; any mismatch is the same forbidden answer, leaking
// nothing about which one was wrong.
func (s *Service) ExchangeToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType != "authorization_code" ||
		req.RedirectURI != s.client.CallbackURL ||
		req.ClientID != s.client.ClientID ||
		req.ClientSecret != s.client.ClientSecret {
		return nil, s.refuse(ctx, "token", "invalid token request")
	}

	conn, err := s.connections.ByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.refuse(ctx, "token", "unknown authorization code")
		}
		s.reject("token")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	now := s.now()
	if conn.IsExpired(now) {
		return nil, s.refuse(ctx, "token", "authorization code has expired")
	}
	if conn.UsagerSub == "" {
		return nil, s.refuse(ctx, "token", "exchange is not bound to a usager")
	}
	// A code is good for one exchange. An already issued access token means
	// this code was spent.
	if conn.AccessToken != "" {
		return nil, s.refuse(ctx, "token", "authorization code already used")
	}

	accessToken, err := secrets.GenerateToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate access token")
	}
	refreshToken, err := secrets.GenerateShortToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate refresh token")
	}
	assertion, err := s.signer.IdentityAssertion(conn.UsagerSub, conn.Nonce, now)
	if err != nil {
		return nil, err
	}

	conn.AccessToken = accessToken
	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save connection")
	}

	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}
	return &TokenResponse{
		AccessToken:  accessToken,
		ExpiresIn:    int(s.tokenTTL.Seconds()),
		IDToken:      assertion,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}, nil
}

// UserInfo resolves the bearer token to the usager profile. When an active
// autorisation covers the exchange's demarche, its use is journaled; the
// profile is served either way, since identity and authorization are
// separate questions.
func (s *Service) UserInfo(ctx context.Context, authorizationHeader string) (map[string]string, error) {
	match := BearerPattern.FindStringSubmatch(authorizationHeader)
	if match == nil {
		return nil, s.refuse(ctx, "user_info", "malformed authorization header")
	}

	conn, err := s.connections.ByAccessToken(ctx, match[1])
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.refuse(ctx, "user_info", "unknown access token")
		}
		s.reject("user_info")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	if conn.IsExpired(s.now()) {
		return nil, s.refuse(ctx, "user_info", "access token has expired")
	}

	usager, err := s.directory.UsagerBySub(ctx, conn.UsagerSub)
	if err != nil {
		return nil, err
	}

	if err := s.journalAutorisationUse(ctx, conn, usager); err != nil {
		return nil, err
	}
	return usager.Profile(), nil
}

func (s *Service) journalAutorisationUse(ctx context.Context, conn *Connection, usager *identitymodels.Usager) error {
	aidant, err := s.directory.AidantByID(ctx, conn.AidantID)
	if err != nil {
		return err
	}
	if aidant.OrganisationID == nil {
		return nil
	}
	autorisation, err := s.autorisations.ValidAutorisation(ctx, *aidant.OrganisationID, usager.ID, conn.Demarche)
	if err != nil {
		return err
	}
	if autorisation == nil {
		return nil
	}
	initiator, err := s.directory.Initiator(ctx, aidant)
	if err != nil {
		return err
	}
	stamp := journal.IdentityStamp{Name: usager.FullName(), ID: usager.ID, Email: usager.Email}
	_, err = s.journal.LogAutorisationUse(ctx, initiator, stamp, conn.Demarche, conn.AccessToken, autorisation.ID)
	return err
}

func (s *Service) connectionByState(ctx context.Context, endpoint, state string) (*Connection, error) {
	if state == "" {
		return nil, s.refuse(ctx, endpoint, "state is required")
	}
	conn, err := s.connections.ByState(ctx, state)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.refuse(ctx, endpoint, "unknown state")
		}
		s.reject(endpoint)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	if conn.IsExpired(s.now()) {
		return nil, s.refuse(ctx, endpoint, "exchange has expired")
	}
	return conn, nil
}

func (s *Service) reject(endpoint string) {
	if s.metrics != nil {
		s.metrics.BrokerRejections.WithLabelValues(endpoint).Inc()
	}
}

// refusalMessage is the one message every broker refusal carries. The true
// reason stays in server logs; an expired or spent credential must read the
// same to the caller as one that never existed.
const refusalMessage = "access denied"

func (s *Service) refuse(ctx context.Context, endpoint, reason string) error {
	s.reject(endpoint)
	s.logger.WarnContext(ctx, "broker request refused", "endpoint", endpoint, "reason", reason)
	return dErrors.New(dErrors.CodeForbidden, refusalMessage)
}
