package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Client is the subset of the transport client the session manager uses.
// Production wraps *whatsmeow.Client; tests inject a fake so the lifecycle
// state machine and the reconciler feed can run without a network.
type Client interface {
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	IsConnected() bool
	IsLoggedIn() bool
	SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	IsOnWhatsApp(ctx context.Context, phones []string) ([]types.IsOnWhatsAppResponse, error)
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	BuildHistorySyncRequest(lastKnown *types.MessageInfo, count int) *waE2E.Message
	AllContacts(ctx context.Context) (map[types.JID]types.ContactInfo, error)
	SelfID() *types.JID
	SelfLID() types.JID
	DeleteDevice(ctx context.Context) error
}

// meowClient adapts *whatsmeow.Client to the Client interface, mostly by
// lifting device-store fields into methods.
type meowClient struct {
	*whatsmeow.Client
}

func (c meowClient) AllContacts(ctx context.Context) (map[types.JID]types.ContactInfo, error) {
	return c.Store.Contacts.GetAllContacts(ctx)
}

func (c meowClient) SelfID() *types.JID {
	return c.Store.ID
}

func (c meowClient) SelfLID() types.JID {
	return c.Store.LID
}

func (c meowClient) DeleteDevice(ctx context.Context) error {
	return c.Store.Delete(ctx)
}

// newMeowClient builds the production client for a device. Auto-reconnect is
// disabled: the session manager owns retry policy and failure classification.
func newMeowClient(device *store.Device, logger waLog.Logger) Client {
	cli := whatsmeow.NewClient(device, logger)
	cli.EnableAutoReconnect = false
	return meowClient{cli}
}

// slogWALog adapts slog to whatsmeow's logging interface.
type slogWALog struct {
	l *slog.Logger
}

func newWALog(l *slog.Logger) waLog.Logger {
	return slogWALog{l: l}
}

func (w slogWALog) Errorf(msg string, args ...any) { w.l.Error(fmt.Sprintf(msg, args...)) }
func (w slogWALog) Warnf(msg string, args ...any)  { w.l.Warn(fmt.Sprintf(msg, args...)) }
func (w slogWALog) Infof(msg string, args ...any)  { w.l.Info(fmt.Sprintf(msg, args...)) }
func (w slogWALog) Debugf(msg string, args ...any) { w.l.Debug(fmt.Sprintf(msg, args...)) }

func (w slogWALog) Sub(module string) waLog.Logger {
	return slogWALog{l: w.l.With("module", module)}
}
