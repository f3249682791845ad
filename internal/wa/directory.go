package wa

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppsync/internal/store"
	"github.com/matheus3301/wppsync/internal/sync"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

// Roster is the part of the protocol client the directory reads from.
type Roster interface {
	OwnJID() types.JID
	JoinedGroups(ctx context.Context) ([]*types.GroupInfo, error)
	Contacts(ctx context.Context) (map[types.JID]types.ContactInfo, error)
	SubscribePresence(ctx context.Context, jid types.JID) error
}

// Directory fetches conversations and address book users into the store.
type Directory struct {
	roster Roster
	src    sync.DBSource
	logger *zap.Logger
}

// NewDirectory creates a directory writing through src.
func NewDirectory(roster Roster, src sync.DBSource, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{roster: roster, src: src, logger: logger}
}

// FetchConversations stores every joined group as a conversation and every
// contact as a user, then subscribes to the contacts' presence.
func (d *Directory) FetchConversations(ctx context.Context) error {
	db, err := d.src.DB()
	if err != nil {
		return err
	}

	groups, err := d.roster.JoinedGroups(ctx)
	if err != nil {
		return fmt.Errorf("get joined groups: %w", err)
	}
	for _, g := range groups {
		if err := db.UpsertConversation(ctx, groupConversation(g)); err != nil {
			return fmt.Errorf("store group %s: %w", g.JID, err)
		}
	}

	contacts, err := d.roster.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("get contacts: %w", err)
	}
	own := d.roster.OwnJID()
	var subscribe []types.JID
	for jid, info := range contacts {
		jid = jid.ToNonAD()
		if jid == own || jid.Server != types.DefaultUserServer {
			continue
		}
		if err := db.UpsertUser(ctx, contactUser(jid, info)); err != nil {
			return fmt.Errorf("store contact %s: %w", jid, err)
		}
		subscribe = append(subscribe, jid)
	}

	for _, jid := range subscribe {
		if err := d.roster.SubscribePresence(ctx, jid); err != nil {
			d.logger.Debug("presence subscription failed", zap.Stringer("jid", jid), zap.Error(err))
		}
	}

	d.logger.Info("conversations fetched",
		zap.Int("groups", len(groups)),
		zap.Int("contacts", len(subscribe)))
	return nil
}

func groupConversation(g *types.GroupInfo) *store.Conversation {
	members := make([]string, 0, len(g.Participants))
	for _, p := range g.Participants {
		members = append(members, p.JID.ToNonAD().String())
	}
	c := &store.Conversation{
		ID:                   g.JID.String(),
		EncryptionParameters: sync.DefaultEncryptionParameters,
		Members:              members,
	}
	if g.Name != "" {
		name := g.Name
		c.Name = &name
	}
	return c
}

func contactUser(jid types.JID, info types.ContactInfo) *store.User {
	u := &store.User{
		ID:       jid.String(),
		Username: jid.User,
	}
	switch {
	case info.FirstName != "":
		first := info.FirstName
		u.Name = &first
		if rest := surname(info.FullName, first); rest != "" {
			u.Surname = &rest
		}
	case info.FullName != "":
		full := info.FullName
		u.Name = &full
	case info.PushName != "":
		push := info.PushName
		u.Name = &push
	}
	return u
}

// surname returns what follows first in full, if full starts with first.
func surname(full, first string) string {
	if len(full) <= len(first)+1 || full[:len(first)] != first || full[len(first)] != ' ' {
		return ""
	}
	return full[len(first)+1:]
}
