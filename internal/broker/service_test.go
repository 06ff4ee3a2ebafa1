package broker_test

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aidantsconnect/internal/broker"
	connectionstore "aidantsconnect/internal/broker/store/connection"
	"aidantsconnect/internal/identity"
	identitymodels "aidantsconnect/internal/identity/models"
	aidantstore "aidantsconnect/internal/identity/store/aidant"
	organisationstore "aidantsconnect/internal/identity/store/organisation"
	usagerstore "aidantsconnect/internal/identity/store/usager"
	"aidantsconnect/internal/idtoken"
	"aidantsconnect/internal/journal"
	journalstore "aidantsconnect/internal/journal/store"
	"aidantsconnect/internal/mandate"
	mandatemodels "aidantsconnect/internal/mandate/models"
	autorisationstore "aidantsconnect/internal/mandate/store/autorisation"
	mandatstore "aidantsconnect/internal/mandate/store/mandat"
	dErrors "aidantsconnect/pkg/domain-errors"
)

type stubSessions struct{}

func (stubSessions) IssueSessionToken(aidantID uuid.UUID, email string, _ time.Time) (string, error) {
	return "session-" + aidantID.String(), nil
}

const (
	clientID     = "fs-client-id"
	clientSecret = "fs-client-secret"
	callbackURL  = "https://fs.example/callback"
)

type ServiceSuite struct {
	suite.Suite
	svc          *broker.Service
	identitySvc  *identity.Service
	mandateSvc   *mandate.Service
	journalStore *journalstore.InMemoryStore
	issuer       *idtoken.Issuer
	now          time.Time

	aidant *identitymodels.Aidant
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2020, 5, 12, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }

	s.journalStore = journalstore.NewInMemory()
	journalSvc := journal.New(s.journalStore, logger)
	mandats := mandatstore.NewInMemory()

	s.identitySvc = identity.New(
		organisationstore.NewInMemory(),
		aidantstore.NewInMemory(),
		usagerstore.NewInMemory(),
		mandats,
		journalSvc,
		stubSessions{},
		logger,
		identity.WithClock(clock),
	)
	s.mandateSvc = mandate.New(
		mandats,
		autorisationstore.NewInMemory(mandats),
		s.identitySvc,
		journalSvc,
		"test-salt",
		logger,
		mandate.WithClock(clock),
	)
	s.issuer = idtoken.NewIssuer(clientID, clientSecret, "https://aidantsconnect.example", 10*time.Minute)
	s.svc = broker.New(
		connectionstore.NewInMemory(),
		s.identitySvc,
		s.mandateSvc,
		journalSvc,
		s.issuer,
		broker.ClientCredentials{ClientID: clientID, ClientSecret: clientSecret, CallbackURL: callbackURL},
		10*time.Minute,
		10*time.Minute,
		logger,
		broker.WithClock(clock),
	)

	ctx := context.Background()
	org, err := s.identitySvc.RegisterOrganisation(ctx, "MAIRIE DE HOULBEC", 123456789000011, "")
	s.Require().NoError(err)
	s.aidant, err = s.identitySvc.RegisterAidant(ctx, "thierry@mairie.fr", "Thierry", "Martin", "Mediateur", "motdepasse", &org.ID)
	s.Require().NoError(err)
}

func (s *ServiceSuite) candidateUsager() *identitymodels.Usager {
	u, err := identitymodels.NewUsager(uuid.New(), "usager-sub-1", "Joséphine", "ST-PIERRE", identitymodels.GenderFemale,
		time.Date(1969, 12, 15, 0, 0, 0, 0, time.UTC), "70447", "", "", s.now)
	s.Require().NoError(err)
	return u
}

// runExchange walks authorize then choose-usager and returns the code.
func (s *ServiceSuite) runExchange(state, demarche string) string {
	ctx := context.Background()
	_, err := s.svc.Authorize(ctx, state, "nonce123")
	s.Require().NoError(err)

	redirect, err := s.svc.ChooseUsager(ctx, s.aidant.ID, state, s.candidateUsager(), demarche, mandatemodels.DureeShort, false)
	s.Require().NoError(err)
	s.True(strings.HasPrefix(redirect, callbackURL+"?code="))

	parsed, err := url.Parse(redirect)
	s.Require().NoError(err)
	s.Equal(state, parsed.Query().Get("state"))
	return parsed.Query().Get("code")
}

func (s *ServiceSuite) tokenRequest(code string) broker.TokenRequest {
	return broker.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  callbackURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
}

func (s *ServiceSuite) TestAuthorizeRequiresUsableState() {
	ctx := context.Background()
	for _, state := range []string{"", "has spaces", "bad/slash"} {
		_, err := s.svc.Authorize(ctx, state, "nonce123")
		s.Require().Error(err, "state %q", state)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	}

	_, err := s.svc.Authorize(ctx, "state123", "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestChooseUsagerUnknownStateForbidden() {
	_, err := s.svc.ChooseUsager(context.Background(), s.aidant.ID, "neverissued1", s.candidateUsager(), "papiers", mandatemodels.DureeShort, false)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestFullExchangeIssuesAssertion() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")

	resp, err := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().NoError(err)
	s.NotEmpty(resp.AccessToken)
	s.Equal("Bearer", resp.TokenType)
	s.Equal(600, resp.ExpiresIn)

	claims, err := s.issuer.ParseIdentityAssertion(resp.IDToken)
	s.Require().NoError(err)
	s.Equal("usager-sub-1", claims.Subject)
	s.Equal("nonce123", claims.Nonce)
}

func (s *ServiceSuite) TestExchangeTokenParameterMatrix() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")

	bad := []broker.TokenRequest{
		func(r broker.TokenRequest) broker.TokenRequest { r.GrantType = "client_credentials"; return r }(s.tokenRequest(code)),
		func(r broker.TokenRequest) broker.TokenRequest { r.RedirectURI = "https://evil.example/cb"; return r }(s.tokenRequest(code)),
		func(r broker.TokenRequest) broker.TokenRequest { r.ClientID = "other"; return r }(s.tokenRequest(code)),
		func(r broker.TokenRequest) broker.TokenRequest { r.ClientSecret = "wrong"; return r }(s.tokenRequest(code)),
		s.tokenRequest("no-such-code"),
	}
	for i, req := range bad {
		_, err := s.svc.ExchangeToken(ctx, req)
		s.Require().Error(err, "case %d", i)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "case %d", i)
	}
}

func (s *ServiceSuite) TestExchangeTokenRejectsExpiredCode() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")

	s.now = s.now.Add(11 * time.Minute)
	_, err := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestExchangeTokenRejectsUnboundCode() {
	ctx := context.Background()
	conn, err := s.svc.Authorize(ctx, "state123", "nonce123")
	s.Require().NoError(err)

	_, err = s.svc.ExchangeToken(ctx, s.tokenRequest(conn.Code))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestUserInfoServesProfileWithoutInternalID() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")
	resp, err := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().NoError(err)

	profile, err := s.svc.UserInfo(ctx, "Bearer "+resp.AccessToken)
	s.Require().NoError(err)
	s.Equal("usager-sub-1", profile["sub"])
	s.Equal("Joséphine", profile["given_name"])
	s.Equal("1969-12-15", profile["birthdate"])
	s.NotContains(profile, "id")
}

func (s *ServiceSuite) TestUserInfoBearerHeaderMatrix() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")
	resp, err := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().NoError(err)

	for _, header := range []string{
		"",
		resp.AccessToken,
		"bearer " + resp.AccessToken,
		"Bearer " + resp.AccessToken + " extra",
		"Bearer bad!token",
	} {
		_, err := s.svc.UserInfo(ctx, header)
		s.Require().Error(err, "header %q", header)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "header %q", header)
	}
}

func (s *ServiceSuite) TestUserInfoRejectsExpiredToken() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")
	resp, err := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().NoError(err)

	s.now = s.now.Add(11 * time.Minute)
	_, err = s.svc.UserInfo(ctx, "Bearer "+resp.AccessToken)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestUserInfoJournalsAutorisationUse() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")
	resp, err := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().NoError(err)

	// No mandate yet: profile served, no use journaled.
	_, err = s.svc.UserInfo(ctx, "Bearer "+resp.AccessToken)
	s.Require().NoError(err)
	uses, err := s.journalStore.ByAction(ctx, journal.ActionUseAutorisation)
	s.Require().NoError(err)
	s.Empty(uses)

	// Conclude a mandate covering the demarche, then the use is journaled.
	usager, err := s.identitySvc.UsagerBySub(ctx, "usager-sub-1")
	s.Require().NoError(err)
	result, err := s.mandateSvc.CreateMandat(ctx, s.aidant.ID, usager.ID, []string{"papiers"}, mandatemodels.DureeLong, false)
	s.Require().NoError(err)

	_, err = s.svc.UserInfo(ctx, "Bearer "+resp.AccessToken)
	s.Require().NoError(err)
	uses, err = s.journalStore.ByAction(ctx, journal.ActionUseAutorisation)
	s.Require().NoError(err)
	s.Require().Len(uses, 1)
	s.Equal(result.Autorisations[0].ID, *uses[0].AutorisationID)
	s.Equal("papiers", uses[0].Demarche)
	s.Equal(resp.AccessToken, uses[0].AccessToken)
}

func (s *ServiceSuite) TestAuthorizationCodeIsSingleUse() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")

	first, err := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().NoError(err)
	s.NotEmpty(first.RefreshToken)

	_, err = s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	// The token from the first exchange stays valid.
	_, err = s.svc.UserInfo(ctx, "Bearer "+first.AccessToken)
	s.Require().NoError(err)
}

// A caller must not be able to tell an expired credential from one that
// never existed. Every refusal carries the same message.
func (s *ServiceSuite) TestRefusalsAreIndistinguishable() {
	ctx := context.Background()
	code := s.runExchange("state123", "papiers")
	resp, err := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().NoError(err)

	_, unknownToken := s.svc.UserInfo(ctx, "Bearer 0123456789abcdef0123456789abcdef")
	s.Require().Error(unknownToken)

	s.now = s.now.Add(11 * time.Minute)
	_, expiredToken := s.svc.UserInfo(ctx, "Bearer "+resp.AccessToken)
	s.Require().Error(expiredToken)
	s.Equal(dErrors.MessageOf(unknownToken), dErrors.MessageOf(expiredToken))

	_, unknownCode := s.svc.ExchangeToken(ctx, s.tokenRequest("no-such-code"))
	s.Require().Error(unknownCode)
	_, expiredCode := s.svc.ExchangeToken(ctx, s.tokenRequest(code))
	s.Require().Error(expiredCode)
	s.Equal(dErrors.MessageOf(unknownCode), dErrors.MessageOf(expiredCode))
	s.Equal(dErrors.MessageOf(unknownToken), dErrors.MessageOf(unknownCode))
}
