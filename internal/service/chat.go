package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/bankassist/internal/command"
	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/punchamoorthee/bankassist/internal/llm"
	"github.com/punchamoorthee/bankassist/internal/store"
	"github.com/rs/zerolog"
)

// ChatService runs one conversational turn end to end: history, generation,
// parsing, dispatch and recording.
type ChatService struct {
	ledger     store.Ledger
	convs      store.ConversationStore
	gen        llm.Generator
	dispatcher *Dispatcher
	log        zerolog.Logger
}

func NewChatService(ledger store.Ledger, convs store.ConversationStore, gen llm.Generator, dispatcher *Dispatcher, log zerolog.Logger) *ChatService {
	return &ChatService{
		ledger:     ledger,
		convs:      convs,
		gen:        gen,
		dispatcher: dispatcher,
		log:        log,
	}
}

// HandleTurn answers userText within sessionID. The returned text is always
// displayable. A non-nil error means the turn did not complete: the
// provider failed (domain.ErrProviderUnavailable), the input was rejected
// (domain.ErrInvalidArgument) or conversation storage failed.
func (s *ChatService) HandleTurn(ctx context.Context, sessionID, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return MsgEmptyInput, fmt.Errorf("%w: empty message", domain.ErrInvalidArgument)
	}
	if err := store.ValidateSessionID(sessionID); err != nil {
		return MsgSystemError, err
	}
	log := s.log.With().Str("session_id", sessionID).Logger()

	history, err := s.convs.Get(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("Load conversation failed")
		return MsgSystemError, err
	}
	if err := s.convs.Append(ctx, sessionID, domain.RoleUser, userText); err != nil {
		log.Error().Err(err).Msg("Record user turn failed")
		return MsgSystemError, err
	}

	reply, err := s.generate(ctx, history, userText)
	if err != nil {
		log.Warn().Err(err).Msg("Text generation failed")
		return MsgProviderBusy, err
	}

	res := s.dispatcher.Dispatch(ctx, command.Parse(reply), reply)

	// The dispatch outcome is already final (a transfer may have committed),
	// so a failure to record it is logged rather than hidden from the user.
	if err := s.convs.Append(ctx, sessionID, domain.RoleAssistant, res.Text); err != nil {
		log.Error().Err(err).Str("command", res.Command).Msg("Record assistant turn failed")
	}

	log.Debug().Str("command", res.Command).Bool("failed", res.Err != nil).Msg("Turn handled")
	return res.Text, nil
}

func (s *ChatService) generate(ctx context.Context, history []domain.Turn, userText string) (string, error) {
	var names []string
	if accounts, err := s.ledger.ListAll(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Listing accounts for prompt failed")
	} else {
		for _, a := range accounts {
			names = append(names, a.Name)
		}
	}

	timer := prometheus.NewTimer(providerLatency)
	reply, err := s.gen.Generate(ctx, llm.SystemPrompt(names), history, userText)
	timer.ObserveDuration()
	if err != nil {
		providerFailures.Inc()
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
		}
		return "", err
	}
	return reply, nil
}

// ClearSession forgets the session's history. Unknown sessions are fine.
func (s *ChatService) ClearSession(ctx context.Context, sessionID string) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := s.convs.Clear(ctx, sessionID); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("Clear conversation failed")
		return err
	}
	return nil
}

// History returns the stored turns of a session, oldest first.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.convs.Get(ctx, sessionID)
}
