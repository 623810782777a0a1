package pipeline

import (
	"time"

	"github.com/GriffinCanCode/huetrack/internal/aim"
	"github.com/GriffinCanCode/huetrack/internal/track"
)

// SessionInfo describes a session when it starts.
type SessionInfo struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Source  string    `json:"source"`
	Batch   bool      `json:"batch"` // segmentation uses the batch path
}

// TargetView is the wire form of the active target.
type TargetView struct {
	ID     uint64  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Pixels int     `json:"pixels"`
	Score  float64 `json:"score"`
}

func viewOf(t *track.Target) *TargetView {
	if t == nil {
		return nil
	}
	return &TargetView{
		ID:     t.ID,
		X:      t.Position.X,
		Y:      t.Position.Y,
		Width:  t.Cluster.Bounds.Dx(),
		Height: t.Cluster.Bounds.Dy(),
		Pixels: t.Cluster.Pixels,
		Score:  t.Score,
	}
}

// Report summarises one processed frame.
type Report struct {
	Session    string        `json:"session"`
	Seq        uint64        `json:"seq"`
	Timestamp  time.Time     `json:"timestamp"`
	Latency    time.Duration `json:"latency_ns"`
	MaskPixels int           `json:"mask_pixels"`
	Clusters   int           `json:"clusters"`
	Targets    int           `json:"targets"`
	Active     *TargetView   `json:"active,omitempty"`
	Command    aim.Command   `json:"command"`
	SceneCut   bool          `json:"scene_cut,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// Summary describes a finished session.
type Summary struct {
	SessionInfo
	Ended time.Time `json:"ended"`
	State State     `json:"state"`
	Stats Stats     `json:"stats"`
	Fault string    `json:"fault,omitempty"`
}

// Observer receives session events. FrameProcessed is called synchronously
// from the processing role, so implementations must return quickly; the
// other methods may be called from any goroutine.
type Observer interface {
	SessionStarted(info SessionInfo)
	StateChanged(session string, from, to State)
	FrameProcessed(r Report)
	SessionEnded(s Summary)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) SessionStarted(SessionInfo)        {}
func (NopObserver) StateChanged(string, State, State) {}
func (NopObserver) FrameProcessed(Report)             {}
func (NopObserver) SessionEnded(Summary)              {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) SessionStarted(info SessionInfo) {
	for _, ob := range o {
		ob.SessionStarted(info)
	}
}

func (o Observers) StateChanged(session string, from, to State) {
	for _, ob := range o {
		ob.StateChanged(session, from, to)
	}
}

func (o Observers) FrameProcessed(r Report) {
	for _, ob := range o {
		ob.FrameProcessed(r)
	}
}

func (o Observers) SessionEnded(s Summary) {
	for _, ob := range o {
		ob.SessionEnded(s)
	}
}
