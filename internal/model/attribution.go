package model

import "time"

// AttributionResult is an auditor similarity finding linking a generated
// output to a licensed source track.
type AttributionResult struct {
	ID               string         `json:"id"`
	TrackID          string         `json:"track_id"`
	Similarity       float64        `json:"similarity"`
	PercentInfluence float64        `json:"percent_influence"`
	SourceFile       string         `json:"source_file,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// DurationSeconds returns the track duration recorded by the auditor, if any.
func (r AttributionResult) DurationSeconds() *float64 {
	return floatMeta(r.Metadata, "duration_seconds")
}

// UsageLog is a partner's declaration that a track was used for a generation.
type UsageLog struct {
	ID         string         `json:"id"`
	PartnerID  string         `json:"partner_id"`
	ModelID    string         `json:"model_id"`
	TrackID    string         `json:"track_id"`
	Confidence *float64       `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Tier returns the model tier the partner reported in the log metadata.
func (l UsageLog) Tier() string {
	if l.Metadata == nil {
		return ""
	}
	s, _ := l.Metadata["tier"].(string)
	return s
}

func floatMeta(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	default:
		return nil
	}
}
