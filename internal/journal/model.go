package journal

import "time"

// Models lists every table the journal migrates.
var Models = []any{&Session{}, &Transition{}, &FrameRecord{}}

// Session is one pipeline session. End fields stay zero while it runs.
type Session struct {
	ID        string `gorm:"primaryKey;size:36"`
	Source    string
	Batch     bool
	StartedAt time.Time
	EndedAt   *time.Time
	State     string
	Fault     string

	Acquired      uint64
	Processed     uint64
	Superseded    uint64
	Unsupported   uint64
	InputFailures uint64
	Timeouts      uint64
	Reinits       uint64
	SceneCuts     uint64
}

// Transition is a lifecycle state change.
type Transition struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;size:36"`
	FromState string
	ToState   string
	At        time.Time
}

// FrameRecord is a processed frame. Target fields are zero when no target
// was active.
type FrameRecord struct {
	ID            uint   `gorm:"primaryKey"`
	SessionID     string `gorm:"index:idx_frame_session_seq;size:36"`
	Seq           uint64 `gorm:"index:idx_frame_session_seq"`
	Timestamp     time.Time
	LatencyMicros int64
	MaskPixels    int
	Clusters      int
	Targets       int
	TargetID      uint64
	TargetX       float64
	TargetY       float64
	DX            float64
	DY            float64
	Click         bool
	SceneCut      bool
	Err           string
}
