package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/calendar-sync-service/internal/gcal"
	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// AccountService handles connecting and disconnecting remote calendar
// accounts.
type AccountService struct {
	accounts AccountStore
	gateway  CalendarGateway
	authURL  func(state string, scopes []string) string
}

func NewAccountService(accounts AccountStore, gateway CalendarGateway, authURL func(state string, scopes []string) string) *AccountService {
	return &AccountService{accounts: accounts, gateway: gateway, authURL: authURL}
}

// AuthorizeURL returns the provider consent URL. The state round-trips the
// (org, user) pair through the redirect.
func (s *AccountService) AuthorizeURL(orgID, userID uuid.UUID) string {
	state := orgID.String() + ":" + userID.String()
	return s.authURL(state, []string{gcal.ScopeCalendar})
}

// ParseState recovers the (org, user) pair from a callback state value.
func ParseState(state string) (orgID, userID uuid.UUID, err error) {
	parts := strings.SplitN(state, ":", 2)
	if len(parts) != 2 {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: malformed state", ErrValidation)
	}
	if orgID, err = uuid.Parse(parts[0]); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: bad org id in state", ErrValidation)
	}
	if userID, err = uuid.Parse(parts[1]); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: bad user id in state", ErrValidation)
	}
	return orgID, userID, nil
}

// HandleCallback exchanges the authorize code and stores the connected
// account, defaulting reads and writes to the primary calendar.
func (s *AccountService) HandleCallback(ctx context.Context, state, code string) (*model.RemoteAccount, error) {
	orgID, userID, err := ParseState(state)
	if err != nil {
		return nil, err
	}
	tok, err := s.gateway.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	a := &model.RemoteAccount{
		OrgID:           orgID,
		UserID:          userID,
		Provider:        model.ProviderGoogle,
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		ExpiresAt:       tok.ExpiresAt,
		Scopes:          tok.Scopes,
		IsEnabled:       true,
		WriteCalendarID: defaultCalendarID,
		ReadCalendarIDs: []string{defaultCalendarID},
		CalendarRules:   []model.CalendarRule{{CalendarID: defaultCalendarID, BlockIfBusyOnly: true}},
		SyncStatus:      "OK",
	}
	if err := s.accounts.Upsert(ctx, a); err != nil {
		return nil, err
	}
	log.Info().
		Str("org_id", orgID.String()).
		Str("user_id", userID.String()).
		Msg("Remote calendar account connected")
	return a, nil
}

// Disconnect zeroes the account's credentials and disables sync, preserving
// history for reconnection.
func (s *AccountService) Disconnect(ctx context.Context, orgID, userID uuid.UUID) error {
	return s.accounts.Disconnect(ctx, orgID, userID)
}
