package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WebhookEvent names a remote-side notification kind.
type WebhookEvent string

const (
	WebhookCodeUpdated     WebhookEvent = "code_updated"
	WebhookBuildCompleted  WebhookEvent = "build_completed"
	WebhookDeploymentReady WebhookEvent = "deployment_ready"
)

// WebhookEvents is the fixed event set registered with the remote service.
var WebhookEvents = []WebhookEvent{WebhookCodeUpdated, WebhookBuildCompleted, WebhookDeploymentReady}

// WebhookPayload is an inbound notification for one project. It lives for a
// single relay dispatch and is never persisted.
type WebhookPayload struct {
	ProjectID string          `json:"projectId"`
	Event     WebhookEvent    `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

var (
	ErrWebhookProjectMissing   = errors.New("webhook: projectId is required")
	ErrWebhookTimestampMissing = errors.New("webhook: timestamp is required")
	ErrWebhookEventMissing     = errors.New("webhook: event is required")
)

// ParseWebhookPayload decodes and validates an inbound payload.
func ParseWebhookPayload(data []byte) (WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return WebhookPayload{}, fmt.Errorf("webhook: decode payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return WebhookPayload{}, err
	}
	return payload, nil
}

// Validate enforces the boundary rules for a payload.
func (p WebhookPayload) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" {
		return ErrWebhookProjectMissing
	}
	if strings.TrimSpace(string(p.Event)) == "" {
		return ErrWebhookEventMissing
	}
	if p.Timestamp.IsZero() {
		return ErrWebhookTimestampMissing
	}
	return nil
}

// WebhookDetail is the typed form of a payload's data.
type WebhookDetail interface {
	webhookDetail()
}

// CodeUpdated carries the commit that changed project code.
type CodeUpdated struct {
	Commit string   `json:"commit"`
	Branch string   `json:"branch,omitempty"`
	Files  []string `json:"files,omitempty"`
}

// BuildCompleted reports a finished build.
type BuildCompleted struct {
	BuildID string `json:"buildId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeploymentReady reports a live deployment.
type DeploymentReady struct {
	URL string `json:"url"`
}

// UnknownEvent keeps events this client does not model.
type UnknownEvent struct {
	Event WebhookEvent
	Raw   json.RawMessage
}

func (CodeUpdated) webhookDetail()     {}
func (BuildCompleted) webhookDetail()  {}
func (DeploymentReady) webhookDetail() {}
func (UnknownEvent) webhookDetail()    {}

// Decode returns the typed detail for the payload's event.
func (p WebhookPayload) Decode() (WebhookDetail, error) {
	var target WebhookDetail
	switch p.Event {
	case WebhookCodeUpdated:
		var d CodeUpdated
		if err := decodeData(p.Data, &d); err != nil {
			return nil, err
		}
		target = d
	case WebhookBuildCompleted:
		var d BuildCompleted
		if err := decodeData(p.Data, &d); err != nil {
			return nil, err
		}
		target = d
	case WebhookDeploymentReady:
		var d DeploymentReady
		if err := decodeData(p.Data, &d); err != nil {
			return nil, err
		}
		target = d
	default:
		target = UnknownEvent{Event: p.Event, Raw: p.Data}
	}
	return target, nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("webhook: decode data: %w", err)
	}
	return nil
}
