package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
)

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// FCMWaker sends data-only Firebase messages to terminals that registered a
// device token, so a terminal without an open websocket still learns that
// collections changed. Changes arriving while a send is in flight are
// coalesced into the next one.
type FCMWaker struct {
	projectID  string
	tokens     oauth2.TokenSource
	endpoint   string
	httpClient *http.Client
	store      *repository.Store
	connected  func(terminalID string) bool

	mu      sync.Mutex
	pending map[string]models.SyncMetadata
	wake    chan struct{}
}

// NewFCMWaker reads a service-account file and prepares a waker for its
// project. An empty credentialsPath uses the default Google credentials.
func NewFCMWaker(ctx context.Context, credentialsPath string, store *repository.Store) (*FCMWaker, error) {
	var creds *google.Credentials
	var err error
	if credentialsPath == "" {
		creds, err = google.FindDefaultCredentials(ctx, fcmScope)
	} else {
		var data []byte
		data, err = os.ReadFile(credentialsPath)
		if err != nil {
			return nil, fmt.Errorf("read firebase credentials: %w", err)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, fcmScope)
	}
	if err != nil {
		return nil, fmt.Errorf("load firebase credentials: %w", err)
	}
	if creds.ProjectID == "" {
		return nil, fmt.Errorf("firebase credentials carry no project_id")
	}

	observability.WithField("project_id", creds.ProjectID).Info("Firebase terminal wake-ups enabled")
	endpoint := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", creds.ProjectID)
	return newFCMWaker(creds.ProjectID, creds.TokenSource, endpoint, store), nil
}

func newFCMWaker(projectID string, tokens oauth2.TokenSource, endpoint string, store *repository.Store) *FCMWaker {
	return &FCMWaker{
		projectID:  projectID,
		tokens:     oauth2.ReuseTokenSource(nil, tokens),
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		connected:  func(string) bool { return false },
		pending:    make(map[string]models.SyncMetadata),
		wake:       make(chan struct{}, 1),
	}
}

// SkipConnected makes the waker ignore terminals for which connected reports
// an open websocket
func (w *FCMWaker) SkipConnected(connected func(terminalID string) bool) {
	w.connected = connected
}

// CollectionChanged records the change and returns immediately
func (w *FCMWaker) CollectionChanged(collection string, meta models.SyncMetadata) {
	w.mu.Lock()
	w.pending[collection] = meta
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run delivers coalesced changes until ctx is cancelled
func (w *FCMWaker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.flush(ctx)
		}
	}
}

func (w *FCMWaker) flush(ctx context.Context) {
	w.mu.Lock()
	changes := w.pending
	w.pending = make(map[string]models.SyncMetadata)
	w.mu.Unlock()
	if len(changes) == 0 {
		return
	}

	terminals, err := w.store.Queries().Terminals.GetAll(ctx)
	if err != nil {
		observability.Warnf("FCM: failed to list terminals: %v", err)
		return
	}

	data := wakeData(changes)
	sent := 0
	for _, t := range terminals {
		if t.DeviceToken == "" || w.connected(t.TerminalID) {
			continue
		}
		if err := w.send(ctx, t.DeviceToken, data); err != nil {
			observability.WithField("terminal_id", t.TerminalID).Warnf("FCM send failed: %v", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		observability.WithFields(map[string]interface{}{
			"collections": data["collections"],
			"terminals":   sent,
		}).Debug("FCM wake-ups sent")
	}
}

// wakeData lists the changed collections and the newest version among them
func wakeData(changes map[string]models.SyncMetadata) map[string]string {
	names := make([]string, 0, len(changes))
	var latest int64
	for name, meta := range changes {
		names = append(names, name)
		if meta.Version > latest {
			latest = meta.Version
		}
	}
	sort.Strings(names)

	return map[string]string{
		"type":        WSTypeCollectionChanged,
		"collections": strings.Join(names, ","),
		"version":     strconv.FormatInt(latest, 10),
	}
}

// FCM API message structures
type fcmMessage struct {
	Message fcmMessageBody `json:"message"`
}

type fcmMessageBody struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data,omitempty"`
	Android *fcmAndroid       `json:"android,omitempty"`
	APNS    *fcmAPNS          `json:"apns,omitempty"`
}

type fcmAndroid struct {
	Priority string `json:"priority,omitempty"`
}

type fcmAPNS struct {
	Headers map[string]string `json:"headers,omitempty"`
	Payload *fcmAPNSPayload   `json:"payload,omitempty"`
}

type fcmAPNSPayload struct {
	Aps *fcmAps `json:"aps,omitempty"`
}

type fcmAps struct {
	ContentAvailable int `json:"content-available,omitempty"`
}

func (w *FCMWaker) send(ctx context.Context, deviceToken string, data map[string]string) error {
	token, err := w.tokens.Token()
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	message := fcmMessage{
		Message: fcmMessageBody{
			Token:   deviceToken,
			Data:    data,
			Android: &fcmAndroid{Priority: "high"},
			APNS: &fcmAPNS{
				Headers: map[string]string{
					"apns-priority":  "5",
					"apns-push-type": "background",
				},
				Payload: &fcmAPNSPayload{Aps: &fcmAps{ContentAvailable: 1}},
			},
		},
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("FCM API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
