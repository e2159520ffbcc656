package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// FCM 通过 HTTP v1 API 投递推送，service account 凭证换取 bearer token。
type FCM struct {
	projectID string
	tokens    oauth2.TokenSource
	client    *http.Client
}

// NewFCM 从 service-account JSON 构造投递器。
func NewFCM(ctx context.Context, credentialsFile, projectID string) (*FCM, error) {
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &FCM{
		projectID: projectID,
		tokens:    creds.TokenSource,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data"`
	Android map[string]any    `json:"android"`
	APNS    map[string]any    `json:"apns"`
	Webpush map[string]any    `json:"webpush"`
}

// Send 投递一条 data 消息。HTTP 404、以及带 SENDER_ID_MISMATCH 的 403
// 属于永久失败，token 应被驱逐；其余失败只记日志。
func (f *FCM) Send(ctx context.Context, token string, data map[string]string) Status {
	suffix := tokenSuffix(token)

	tok, err := f.tokens.Token()
	if err != nil {
		log.Error().Err(err).Msg("fcm token source")
		return Transient
	}

	body, err := json.Marshal(fcmRequest{Message: fcmMessage{
		Token:   token,
		Data:    data,
		Android: map[string]any{"priority": "high"},
		APNS:    map[string]any{"headers": map[string]string{"apns-priority": "10"}},
		Webpush: map[string]any{"headers": map[string]string{"Urgency": "high"}},
	}})
	if err != nil {
		log.Error().Err(err).Msg("fcm marshal")
		return Transient
	}

	url := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", f.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("fcm request")
		return Transient
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("token_suffix", suffix).Msg("fcm send")
		return Transient
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Info().Str("token_suffix", suffix).Msg("fcm push sent")
		return Delivered
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound ||
		(resp.StatusCode == http.StatusForbidden && strings.Contains(string(text), "SENDER_ID_MISMATCH")) {
		log.Warn().Int("status", resp.StatusCode).Str("token_suffix", suffix).Msg("fcm dead token, evicting")
		return Invalid
	}
	log.Error().Int("status", resp.StatusCode).Str("body", string(text)).Msg("fcm send failed")
	return Transient
}

func tokenSuffix(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[len(token)-12:]
}
