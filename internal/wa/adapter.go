package wa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppsync/internal/avatar"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/session"
	"github.com/matheus3301/wppsync/internal/store"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotLoggedIn is returned by fetches that need a paired device.
var ErrNotLoggedIn = errors.New("not logged in")

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	session   string
}

// NewAdapter creates a new WhatsApp adapter for the given session.
func NewAdapter(ctx context.Context, sessionName string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("wppsync", [3]uint32{0, 1, 0})

	dbPath := session.SessionDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	return &Adapter{
		client:    client,
		container: container,
		bus:       b,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client != nil && a.client.Store != nil && a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// OwnJID returns the account's user JID without device, or the empty JID.
func (a *Adapter) OwnJID() types.JID {
	if !a.IsLoggedIn() {
		return types.EmptyJID
	}
	return a.client.Store.ID.ToNonAD()
}

// FetchUserInfo builds the account owner's users row from the device store.
func (a *Adapter) FetchUserInfo(ctx context.Context) (*store.User, error) {
	if !a.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	own := a.OwnJID()
	now := time.Now().UTC()
	u := &store.User{
		ID:           own.String(),
		Username:     own.User,
		RSAPublicKey: a.identityKey(),
		LastAccess:   &now,
	}
	if name := a.client.Store.PushName; name != "" {
		u.Name = &name
	}

	info, err := a.client.GetProfilePictureInfo(ctx, own, &whatsmeow.GetProfilePictureParams{})
	switch {
	case err == nil && info != nil:
		u.ProfilePictureID = &info.ID
	case err != nil && !noPicture(err):
		a.logger.Warn("failed to fetch own profile picture", zap.Error(err))
	}
	return u, nil
}

func (a *Adapter) identityKey() string {
	key := a.client.Store.IdentityKey
	if key == nil || key.Pub == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(key.Pub[:])
}

// FetchProfilePicture returns the current profile picture URL of a user.
func (a *Adapter) FetchProfilePicture(ctx context.Context, userID string) (string, error) {
	jid, err := types.ParseJID(userID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil {
		if noPicture(err) {
			return "", avatar.ErrNoPicture
		}
		return "", fmt.Errorf("get profile picture: %w", err)
	}
	if info == nil || info.URL == "" {
		return "", avatar.ErrNoPicture
	}
	return info.URL, nil
}

func noPicture(err error) bool {
	return errors.Is(err, whatsmeow.ErrProfilePictureNotSet) ||
		errors.Is(err, whatsmeow.ErrProfilePictureUnauthorized)
}

// JoinedGroups returns every group the account is a member of.
func (a *Adapter) JoinedGroups(ctx context.Context) ([]*types.GroupInfo, error) {
	return a.client.GetJoinedGroups(ctx)
}

// Contacts returns the address book kept in the device store.
func (a *Adapter) Contacts(ctx context.Context) (map[types.JID]types.ContactInfo, error) {
	return a.client.Store.Contacts.GetAllContacts(ctx)
}

// SubscribePresence asks the server for presence updates of jid.
func (a *Adapter) SubscribePresence(ctx context.Context, jid types.JID) error {
	return a.client.SubscribePresence(ctx, jid)
}

// RequestHistory sends an on-demand history sync request for messages older
// than anchor. The answer arrives as a HistorySync event.
func (a *Adapter) RequestHistory(ctx context.Context, anchor *store.Message, count int) error {
	if !a.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	chat, err := types.ParseJID(anchor.ConversationID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	info := &types.MessageInfo{
		MessageSource: types.MessageSource{
			Chat:     chat,
			IsFromMe: anchor.UserID == nil,
			IsGroup:  chat.Server == types.GroupServer,
		},
		ID:        anchor.ID,
		Timestamp: anchor.CreatedAt,
	}
	if _, err := a.client.SendPeerMessage(ctx, a.client.BuildHistorySyncRequest(info, count)); err != nil {
		return fmt.Errorf("send history request: %w", err)
	}
	return nil
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
