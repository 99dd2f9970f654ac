package jail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/logger"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("jail role is not configured")
	ErrNotJailed     = errors.New("member is not jailed")
)

type Store interface {
	GetJailRole(ctx context.Context, guildID string) (string, error)
	SaveJailedRoles(ctx context.Context, guildID, userID string, roles []string) ([]string, bool, error)
	GetJailedRoles(ctx context.Context, guildID, userID string) ([]string, bool, error)
	DeleteJailed(ctx context.Context, guildID, userID string) error
}

// Service swaps a member's roles for the guild's jail role and keeps the
// previous roles so they can be given back.
type Service struct {
	store  Store
	client discord.Client
	logger *zap.Logger
}

func New(store Store, client discord.Client, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, client: client, logger: log}
}

func (s *Service) Jail(ctx context.Context, msg *discord.Message, reason string) error {
	if !msg.Self.CanInGuild(discordgo.PermissionManageRoles) {
		return discord.NewActionError("jail", http.StatusForbidden, discordgo.ErrCodeMissingPermissions)
	}
	roleID, err := s.store.GetJailRole(ctx, msg.GuildID)
	if err != nil {
		return fmt.Errorf("load jail role: %w", err)
	}
	if roleID == "" {
		return ErrNotConfigured
	}

	previous := make([]string, 0, len(msg.Author.Roles))
	for _, id := range msg.Author.Roles {
		if id != roleID {
			previous = append(previous, id)
		}
	}
	_, alreadyJailed, err := s.store.SaveJailedRoles(ctx, msg.GuildID, msg.Author.ID, previous)
	if err != nil {
		return fmt.Errorf("save jailed roles: %w", err)
	}

	if err := s.client.SetMemberRoles(ctx, msg.GuildID, msg.Author.ID, []string{roleID}, "jailed: "+reason); err != nil {
		if !alreadyJailed {
			if delErr := s.store.DeleteJailed(ctx, msg.GuildID, msg.Author.ID); delErr != nil {
				s.logger.Warn("jail rollback failed", logger.GuildID(msg.GuildID), logger.UserID(msg.Author.ID), zap.Error(delErr))
			}
		}
		return err
	}
	s.logger.Info("member jailed", logger.GuildID(msg.GuildID), logger.UserID(msg.Author.ID), zap.Bool("already_jailed", alreadyJailed))
	return nil
}

// Release restores the roles saved when the member was jailed.
func (s *Service) Release(ctx context.Context, guildID, userID, reason string) error {
	roles, ok, err := s.store.GetJailedRoles(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("load jailed roles: %w", err)
	}
	if !ok {
		return ErrNotJailed
	}
	if err := s.client.SetMemberRoles(ctx, guildID, userID, roles, "unjailed: "+reason); err != nil {
		return err
	}
	return s.store.DeleteJailed(ctx, guildID, userID)
}
