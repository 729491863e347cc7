package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Exchange and queue names are fixed; routing between them is by topic.
const (
	ExchangeAsset         = "asset-exchange"
	ExchangeVulnerability = "vulnerability-exchange"

	QueueAsset         = "asset-queue"
	QueueWebappAsset   = "webapp-asset-queue"
	QueueVulnerability = "vulnerability-queue"
)

const EventSpecVersion = "1.0"

// Event is the CloudEvents-shaped envelope placed on the bus. Data holds the
// JSON-encoded payload; the concrete payload type follows from Type.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	SpecVersion string          `json:"specversion"`
	Time        time.Time       `json:"time"`
	Data        json.RawMessage `json:"data"`
}

// SourceEventData triggers source discovery (Handler A).
type SourceEventData struct {
	SourceID      string       `json:"sourceId"`
	SourceName    string       `json:"sourceName"`
	SourceType    SourceType   `json:"sourceType"`
	ScanType      TriggerCause `json:"scanType"`
	ScanCreatedBy string       `json:"scanCreatedBy"`
	ScheduleRunID string       `json:"scheduleRunId"`
	AssetScanID   string       `json:"assetScanId,omitempty"`
}

// AssetEventData triggers vulnerability fan-out for one asset.
type AssetEventData struct {
	AssetID       string       `json:"assetId"`
	AssetName     string       `json:"assetName"`
	AssetType     AssetType    `json:"assetType"`
	Profiles      []string     `json:"profiles,omitempty"`
	ScanType      TriggerCause `json:"scanType"`
	ScanCreatedBy string       `json:"scanCreatedBy"`
	ScheduleRunID string       `json:"scheduleRunId"`
}

// WebappAssetEventData triggers a webapp sub-scan (Handler B).
type WebappAssetEventData struct {
	WebappID      string       `json:"webappId"`
	ScanType      TriggerCause `json:"scanType"`
	ScanCreatedBy string       `json:"scanCreatedBy"`
	ScheduleRunID string       `json:"scheduleRunId"`
	AssetScanID   string       `json:"assetScanId,omitempty"`
	SourceID      string       `json:"sourceId,omitempty"`
}

// NewEvent wraps a payload in an envelope. The topic encodes subject and
// action, e.g. "source.aws.added" or "webapp.updated".
func NewEvent(topic, originator string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Event{
		ID:          uuid.New().String(),
		Type:        topic,
		Source:      originator,
		SpecVersion: EventSpecVersion,
		Time:        time.Now().UTC(),
		Data:        data,
	}, nil
}

// SourceTopic derives the routing topic for a source-discovery event.
func SourceTopic(t SourceType, cause TriggerCause) string {
	return fmt.Sprintf("source.%s.%s", typeSegment(string(t)), actionSegment(cause))
}

// AssetTopic derives the routing topic for a vulnerability-scan event.
func AssetTopic(t AssetType, cause TriggerCause) string {
	return fmt.Sprintf("asset.%s.%s", typeSegment(string(t)), actionSegment(cause))
}

// WebappTopic derives the routing topic for a webapp sub-scan event.
func WebappTopic(cause TriggerCause) string {
	return "webapp." + actionSegment(cause)
}

func actionSegment(cause TriggerCause) string {
	if cause.Update() {
		return "updated"
	}
	return "added"
}

func typeSegment(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
