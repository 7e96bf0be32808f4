package catalog

import "time"

// Recording is one finished session.
type Recording struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Path           string    `gorm:"size:512;uniqueIndex;not null" json:"path"`
	BaseName       string    `gorm:"size:255;index" json:"base_name"`
	SampleRate     int       `json:"sample_rate"`
	Channels       int       `json:"channels"`
	Frames         int64     `json:"frames"`
	Seconds        float64   `json:"seconds"`
	PeakDBFS       float64   `json:"peak_dbfs"`
	RMSDBFS        float64   `json:"rms_dbfs"`
	ClippedBuffers int       `json:"clipped_buffers"`
	IgnoredBytes   uint64    `json:"ignored_bytes"`
	StartedAt      time.Time `gorm:"index" json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName pins the table name independent of naming strategy.
func (Recording) TableName() string {
	return "recordings"
}
