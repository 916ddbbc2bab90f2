package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gmsas95/vitalwatch/internal/notify"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	mu         sync.Mutex
	sent       []tgbotapi.MessageConfig
	failMarkup bool
	failAll    bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	if f.failAll || (f.failMarkup && msg.ParseMode != "") {
		return tgbotapi.Message{}, errors.New("bad request")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

type fakeHealth struct{}

func (fakeHealth) Latest(ctx context.Context, userID string) (*vitals.VitalSigns, error) {
	return nil, nil
}

func (fakeHealth) Alerts(ctx context.Context, userID string, includeAcknowledged bool) ([]vitals.HealthAlert, error) {
	return nil, nil
}

func (fakeHealth) Acknowledge(ctx context.Context, userID, alertID string) (*vitals.HealthAlert, error) {
	return &vitals.HealthAlert{ID: alertID, Message: "Abnormal heart rate: 105 bpm"}, nil
}

func (fakeHealth) Trend(ctx context.Context, userID string, metric vitals.Metric, period vitals.Period) (vitals.HealthTrend, error) {
	return vitals.HealthTrend{Metric: metric, Period: period}, nil
}

func command(chatID int64, text, cmd string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		},
	}}
}

func TestBot_SendToAllChats(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, Config{ChatIDs: []int64{1, 2}, UserID: "u"}, fakeHealth{}, zap.NewNop())
	assert.Equal(t, "telegram", b.Name())

	err := b.Send(context.Background(), &notify.Notification{
		UserID: "u",
		Kind:   notify.KindAlert,
		Title:  "Abnormal heart rate: 105 bpm",
		Body:   "Value: 105 (threshold: 100)",
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 2)
	assert.Equal(t, int64(1), api.sent[0].ChatID)
	assert.Equal(t, int64(2), api.sent[1].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, api.sent[0].ParseMode)
	assert.Contains(t, api.sent[0].Text, "Abnormal heart rate")
}

func TestBot_SendSkipsOtherUsers(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, Config{ChatIDs: []int64{1}, UserID: "u"}, fakeHealth{}, zap.NewNop())

	require.NoError(t, b.Send(context.Background(), &notify.Notification{UserID: "someone-else"}))
	assert.Empty(t, api.sent)
}

func TestBot_PlainTextFallback(t *testing.T) {
	api := &fakeAPI{failMarkup: true}
	b := newBot(api, Config{ChatIDs: []int64{1}, UserID: "u"}, fakeHealth{}, zap.NewNop())

	require.NoError(t, b.Send(context.Background(), &notify.Notification{UserID: "u", Title: "t", Body: "b"}))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "", api.sent[0].ParseMode)
}

func TestBot_SendFails(t *testing.T) {
	api := &fakeAPI{failAll: true}
	b := newBot(api, Config{ChatIDs: []int64{1}, UserID: "u"}, fakeHealth{}, zap.NewNop())

	assert.Error(t, b.Send(context.Background(), &notify.Notification{UserID: "u"}))
}

func TestBot_HandleCommand(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, Config{ChatIDs: []int64{1}, UserID: "u"}, fakeHealth{}, zap.NewNop())

	require.NoError(t, b.handleUpdate(command(1, "/ack a1", "/ack")))
	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0].Text, "Acknowledged: Abnormal heart rate")

	// chats outside the allow list are refused
	require.NoError(t, b.handleUpdate(command(99, "/latest", "/latest")))
	require.Len(t, api.sent, 2)
	assert.Contains(t, api.sent[1].Text, "not authorized")

	// plain text is ignored
	require.NoError(t, b.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"}}))
	assert.Len(t, api.sent, 2)
}
