package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/phonelink/server/internal/repository"
)

// PushService wakes up backgrounded devices through Firebase Cloud Messaging
// using the direct HTTP v1 API. It is an optional sink: the realtime hub is
// the primary delivery path and push only nudges devices without a live
// connection to reconnect and pull.
type PushService struct {
	projectID   string
	credentials []byte
	httpClient  *http.Client
	deviceRepo  repository.DeviceRepo

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewPushService creates a new PushService with the given credentials file
func NewPushService(credentialsPath string, deviceRepo repository.DeviceRepo) (*PushService, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("push credentials path is required")
	}

	if _, err := os.Stat(credentialsPath); err != nil {
		return nil, fmt.Errorf("credentials file not accessible: %w", err)
	}

	credData, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(credData, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	svc := &PushService{
		projectID:   creds.ProjectID,
		credentials: credData,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		deviceRepo:  deviceRepo,
	}

	if _, err := svc.getAccessToken(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to get initial access token: %w", err)
	}
	log.Printf("Push service initialized (FCM project %s)", creds.ProjectID)

	return svc, nil
}

// getAccessToken returns a valid OAuth2 access token, refreshing if needed
func (s *PushService) getAccessToken(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	// Cached token is reused with a 5 minute expiry buffer
	if s.token != "" && time.Now().Add(5*time.Minute).Before(s.tokenExpiry) {
		return s.token, nil
	}

	scopes := []string{"https://www.googleapis.com/auth/firebase.messaging"}

	// Default credentials first (GOOGLE_APPLICATION_CREDENTIALS), then the
	// explicit credentials file
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		creds, err = google.CredentialsFromJSON(ctx, s.credentials, scopes...)
		if err != nil {
			return "", fmt.Errorf("failed to create credentials: %w", err)
		}
	}

	token, err := creds.TokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	s.token = token.AccessToken
	s.tokenExpiry = token.Expiry
	return s.token, nil
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

// NotifyUser sends a data-only wake-up push to every device of userID that
// has a push token, except excludeDeviceID. The payload carries only the
// event kind; devices fetch actual content over the authenticated API, so
// nothing sensitive transits the push provider.
func (s *PushService) NotifyUser(ctx context.Context, userID, excludeDeviceID, kind string) error {
	devices, err := s.deviceRepo.GetAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list devices for push: %w", err)
	}

	var lastErr error
	sent := 0
	for _, device := range devices {
		if device.ID == excludeDeviceID || device.PushToken == "" {
			continue
		}
		if err := s.send(ctx, device.PushToken, kind); err != nil {
			log.Printf("Push send failed for device %s: %v", device.ID, err)
			lastErr = err
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// send delivers one data-only message to a single push token.
func (s *PushService) send(ctx context.Context, pushToken, kind string) error {
	token, err := s.getAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	message := fcmMessage{
		Message: fcmMessageBody{
			Token: pushToken,
			Data: map[string]string{
				"type": kind,
			},
			Android: &fcmAndroid{
				Priority: "high",
			},
			APNS: &fcmAPNS{
				Headers: map[string]string{
					"apns-priority":  "5",
					"apns-push-type": "background",
				},
				Payload: &fcmAPNSPayload{
					Aps: &fcmAps{
						ContentAvailable: 1,
					},
				},
			},
		},
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", s.projectID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("FCM API error: %s", string(respBody))
	}
	return nil
}
