package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/session"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// fakeMessenger records outbound traffic and serves canned file downloads.
type sentMessage struct {
	Chat     int64
	Text     string
	Keyboard [][]models.Button
}

type sentDocument struct {
	Chat     int64
	Filename string
	Data     []byte
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int64
	sent    []sentMessage
	photos  []sentMessage
	docs    []sentDocument
	deleted []int64

	fileData map[string][]byte
	fileType map[string]string

	updates chan models.Update
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		fileData: make(map[string][]byte),
		fileType: make(map[string]string),
		updates:  make(chan models.Update, 16),
	}
}

func (m *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string, kb [][]models.Button) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{Chat: chatID, Text: text, Keyboard: kb})
	return m.nextID, nil
}

func (m *fakeMessenger) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, kb [][]models.Button) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.photos = append(m.photos, sentMessage{Chat: chatID, Text: caption, Keyboard: kb})
	return m.nextID, nil
}

func (m *fakeMessenger) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.docs = append(m.docs, sentDocument{Chat: chatID, Filename: filename, Data: data})
	return m.nextID, nil
}

func (m *fakeMessenger) EditMessage(ctx context.Context, chatID, messageID int64, text string, kb [][]models.Button) error {
	return nil
}

func (m *fakeMessenger) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *fakeMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (m *fakeMessenger) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.fileData[fileID]
	if !ok {
		return nil, "", fmt.Errorf("unknown file %s", fileID)
	}
	return data, m.fileType[fileID], nil
}

func (m *fakeMessenger) Updates() <-chan models.Update { return m.updates }

func (m *fakeMessenger) Start(ctx context.Context) error { return nil }

func (m *fakeMessenger) Stop() error { return nil }

// lastText returns the most recently sent message text.
func (m *fakeMessenger) lastText(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return m.sent[len(m.sent)-1].Text
}

// lastKeyboard returns the most recently sent keyboard.
func (m *fakeMessenger) lastKeyboard(t *testing.T) [][]models.Button {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return m.sent[len(m.sent)-1].Keyboard
}

// sentContaining reports whether any sent message contains the substring.
func (m *fakeMessenger) sentContaining(sub string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sent {
		if strings.Contains(s.Text, sub) {
			return true
		}
	}
	return false
}

// fakeBlob records uploads.
type fakeBlob struct {
	mu      sync.Mutex
	uploads map[string][]byte
	err     error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{uploads: make(map[string][]byte)}
}

func (b *fakeBlob) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.uploads[path] = data
	return "https://storage.local/object/public/leads/" + path, nil
}

func (b *fakeBlob) Download(ctx context.Context, url string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for path, data := range b.uploads {
		if strings.HasSuffix(url, path) {
			return data, nil
		}
	}
	return nil, fmt.Errorf("object not found")
}

// testEnv bundles a full dispatcher over fakes.
type testEnv struct {
	deps  *Deps
	disp  *Dispatcher
	msg   *fakeMessenger
	blob  *fakeBlob
	store *store.InMemoryStore
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	msg := newFakeMessenger()
	bl := newFakeBlob()
	st := store.NewInMemoryStore()
	sessions := session.NewStore()
	deps := &Deps{
		Store:    st,
		Blob:     bl,
		Msg:      msg,
		Sessions: sessions,
		Limiter:  session.NewRateLimiter(),
		Tracker:  session.NewMessageTracker(),
		States:   NewStateManager(st, sessions),
		Unique:   NewUniquenessChecker(st),
		Cfg:      cfg,
	}
	return &testEnv{deps: deps, disp: NewDispatcher(deps), msg: msg, blob: bl, store: st}
}

func defaultConfig() Config {
	return Config{
		PINCode:       "1234",
		FacebookFlow:  true,
		PhotosEnabled: true,
	}
}

// text dispatches a plain text update from the operator.
func (e *testEnv) text(actor int64, text string) {
	e.disp.Dispatch(context.Background(), models.Update{
		ActorID: actor,
		Text:    text,
		From:    models.Profile{FirstName: "Petr", LastName: "S", Username: "petya"},
	})
}

// callback dispatches a button press.
func (e *testEnv) callback(actor int64, data string) {
	e.disp.Dispatch(context.Background(), models.Update{
		ActorID:    actor,
		Callback:   data,
		CallbackID: "cb",
		From:       models.Profile{FirstName: "Petr", LastName: "S", Username: "petya"},
	})
}

// activeState returns the actor's persisted flow state, nil when idle.
func (e *testEnv) activeState(t *testing.T, actor int64) *models.FlowState {
	t.Helper()
	st, err := e.store.GetFlowState(context.Background(), actor)
	if err != nil {
		t.Fatalf("GetFlowState failed: %v", err)
	}
	return st
}

// leadsOf lists all leads owned by a manager.
func (e *testEnv) allLeads(t *testing.T) []models.Lead {
	t.Helper()
	var out []models.Lead
	for id := int64(1); ; id++ {
		l, err := e.store.GetLead(context.Background(), id)
		if err != nil {
			t.Fatalf("GetLead failed: %v", err)
		}
		if l == nil {
			break
		}
		out = append(out, *l)
	}
	return out
}

// pressButton finds a button by label substring on the last keyboard and
// dispatches it.
func (e *testEnv) pressButton(t *testing.T, actor int64, labelSub string) {
	t.Helper()
	for _, row := range e.msg.lastKeyboard(t) {
		for _, b := range row {
			if strings.Contains(b.Label, labelSub) {
				e.callback(actor, b.Data)
				return
			}
		}
	}
	t.Fatalf("no button with label containing %q", labelSub)
}
