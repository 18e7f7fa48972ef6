package models

import (
	"strings"
	"time"
)

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin  RoleName = "admin"
	RoleEditor RoleName = "editor"
	RoleViewer RoleName = "viewer"

	// RolePlayer is carried by screen device tokens, never by users.
	RolePlayer RoleName = "player"
)

// User represents an authenticated account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      RoleName `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Orientation describes how a screen is mounted.
type Orientation string

const (
	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
)

// Screen is a physical display device driven by the player.
type Screen struct {
	ID              string      `gorm:"type:uuid;primaryKey"`
	Name            string      `gorm:"uniqueIndex"`
	Description     string      `gorm:"type:text"`
	Location        string      `gorm:"index"`
	Orientation     Orientation `gorm:"type:varchar(16)"`
	Width           int
	Height          int
	Timezone        string  `gorm:"type:varchar(32)"`
	DefaultLayoutID *string `gorm:"type:uuid"`
	ActiveLayoutID  *string `gorm:"type:uuid"`
	Active          bool    `gorm:"default:true"`
	LastSeenAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Layout divides a canvas into regions.
type Layout struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	Name         string `gorm:"index"`
	Description  string `gorm:"type:text"`
	CanvasWidth  int
	CanvasHeight int
	Background   string   `gorm:"type:varchar(32)"`
	Regions      []Region `gorm:"foreignKey:LayoutID"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Region is a rectangular playback slot within a layout.
// Overlap between sibling regions is allowed but not resolved; z-order decides stacking.
type Region struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	LayoutID  string `gorm:"type:uuid;index"`
	Name      string
	X         int
	Y         int
	Width     int
	Height    int
	ZIndex    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContentType enumerates the renderable content kinds.
type ContentType string

const (
	ContentImage      ContentType = "image"
	ContentVideo      ContentType = "video"
	ContentWeb        ContentType = "web"
	ContentText       ContentType = "text"
	ContentLivestream ContentType = "livestream"
)

// ProbeState tracks server-side inspection of an uploaded asset.
type ProbeState string

const (
	ProbePending  ProbeState = "pending"
	ProbeRunning  ProbeState = "running"
	ProbeComplete ProbeState = "complete"
	ProbeFailed   ProbeState = "failed"
)

// ContentItem is a displayable asset or reference.
type ContentItem struct {
	ID         string      `gorm:"type:uuid;primaryKey"`
	Name       string      `gorm:"index"`
	Type       ContentType `gorm:"type:varchar(16);index"`
	StorageKey string
	SourceURI  string // Web page URL or stream manifest URL
	SizeBytes  int64
	Width      int
	Height     int
	ProbeState ProbeState `gorm:"type:varchar(16)"`

	// DisplayDuration is the editor-set on-screen time; zero means unset.
	DisplayDuration time.Duration
	// DetectedDuration is the native media duration discovered by the
	// server-side probe or reported back by a player; zero means unknown.
	DetectedDuration time.Duration

	// Livestream fields
	IsLive          bool
	FallbackImageID *string `gorm:"type:uuid"`

	// Text fields
	TextBody    string         `gorm:"type:text"`
	ScrollSpeed int            // Pixels per second; zero disables scrolling
	TextStyle   map[string]any `gorm:"type:jsonb;serializer:json"`

	// Import provenance, set when the item came from a legacy system.
	ImportSource   string `gorm:"type:varchar(32)"`
	ImportSourceID string `gorm:"index"`
	ImportJobID    string `gorm:"type:uuid"`

	Metadata  map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Playlist binds content sequences to the regions of a layout.
type Playlist struct {
	ID          string       `gorm:"type:uuid;primaryKey"`
	Name        string       `gorm:"index"`
	Description string       `gorm:"type:text"`
	LayoutID    string       `gorm:"type:uuid;index"`
	Assignments []Assignment `gorm:"foreignKey:PlaylistID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Assignment is the ordered content list bound to one region.
type Assignment struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	PlaylistID string            `gorm:"type:uuid;index"`
	RegionID   string            `gorm:"type:uuid;index"`
	Entries    []AssignmentEntry `gorm:"foreignKey:AssignmentID"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AssignmentEntry places one content item at a position within an assignment.
type AssignmentEntry struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	AssignmentID  string `gorm:"type:uuid;index"`
	ContentItemID string `gorm:"type:uuid;index"`
	Position      int
	// DurationOverride pins the on-screen time for this entry; zero means none.
	DurationOverride time.Duration
	CreatedAt        time.Time
}

// ProbeJob queues one uploaded asset for server-side inspection.
type ProbeJob struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	ContentID string     `gorm:"type:uuid;index"`
	Status    ProbeState `gorm:"type:varchar(16)"`
	Error     string     `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlayLog stores proof-of-play records emitted by the playback engine.
type PlayLog struct {
	ID          string      `gorm:"type:uuid;primaryKey"`
	ScreenID    string      `gorm:"type:uuid;index"`
	RegionID    string      `gorm:"type:uuid;index"`
	ContentID   string      `gorm:"type:uuid"`
	ContentName string      `gorm:"index"`
	ContentType ContentType `gorm:"type:varchar(16)"`
	CycleCount  int
	ItemIndex   int
	StartedAt   time.Time
	Duration    time.Duration
	Metadata    map[string]any `gorm:"type:jsonb;serializer:json"`
}

// MetadataString retrieves string metadata with fallback to struct fields.
func (p PlayLog) MetadataString(key string) string {
	if p.Metadata != nil {
		if val, ok := p.Metadata[key]; ok {
			if str, ok := val.(string); ok {
				return str
			}
		}
	}
	switch strings.ToLower(key) {
	case "content_name":
		return p.ContentName
	case "content_type":
		return string(p.ContentType)
	default:
		return ""
	}
}
