package telegram

import (
	"io"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fakeBot records every call and drains uploaded files the way the real
// client does.
type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	uploaded map[string][]byte
	nextID   int

	sendErr    error
	requestErr error
	fileURL    string
	fileErr    error

	updates chan tgbotapi.Update
	stopped int
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		nextID:   100,
		uploaded: make(map[string][]byte),
		updates:  make(chan tgbotapi.Update, 16),
	}
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var file tgbotapi.RequestFileData
	switch v := c.(type) {
	case tgbotapi.VideoConfig:
		file = v.File
	case tgbotapi.PhotoConfig:
		file = v.File
	}
	if file != nil {
		name, r, err := file.UploadData()
		if err != nil {
			return tgbotapi.Message{}, err
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return tgbotapi.Message{}, err
		}
		f.mu.Lock()
		f.uploaded[name] = data
		f.mu.Unlock()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetFileDirectURL(string) (string, error) {
	return f.fileURL, f.fileErr
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeBot) sentMessages() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.sent...)
}

func (f *fakeBot) sentRequests() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.requests...)
}

// lastText returns the text of the last MessageConfig sent.
func (f *fakeBot) lastText() string {
	msgs := f.sentMessages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(tgbotapi.MessageConfig); ok {
			return m.Text
		}
	}
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
