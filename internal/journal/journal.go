// Package journal records sessions, lifecycle transitions and optionally
// every processed frame into SQLite.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/pipeline"
)

// Journal is a pipeline.Observer backed by gorm.
type Journal struct {
	db      *gorm.DB
	frames  bool
	batcher *Batcher
}

var _ pipeline.Observer = (*Journal)(nil)

// Open opens or creates the database at cfg.Path and migrates it.
func Open(cfg config.JournalConfig) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeConfig, "opening journal %q", cfg.Path)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "journal sql handle")
	}
	// SQLite allows one writer; serialise instead of surfacing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models...); err != nil {
		_ = sqlDB.Close()
		return nil, apperr.Wrap(err, apperr.CodeConfig, "migrating journal")
	}

	j := &Journal{db: db, frames: cfg.Frames}
	j.batcher = NewBatcher(j.storeFrames, cfg.BatchSize, cfg.FlushDelay)
	return j, nil
}

func (j *Journal) storeFrames(ctx context.Context, items []FrameRecord) error {
	return j.db.WithContext(ctx).CreateInBatches(items, 100).Error
}

func (j *Journal) SessionStarted(info pipeline.SessionInfo) {
	err := j.db.Create(&Session{
		ID:        info.ID,
		Source:    info.Source,
		Batch:     info.Batch,
		StartedAt: info.Started,
		State:     pipeline.Running.String(),
	}).Error
	if err != nil {
		slog.Warn("journal: recording session start", "session", info.ID, "error", err)
	}
}

func (j *Journal) StateChanged(session string, from, to pipeline.State) {
	err := j.db.Create(&Transition{
		SessionID: session,
		FromState: from.String(),
		ToState:   to.String(),
		At:        time.Now(),
	}).Error
	if err == nil {
		err = j.db.Model(&Session{ID: session}).Update("state", to.String()).Error
	}
	if err != nil {
		slog.Warn("journal: recording transition", "session", session, "to", to, "error", err)
	}
}

func (j *Journal) FrameProcessed(r pipeline.Report) {
	if !j.frames {
		return
	}
	rec := FrameRecord{
		SessionID:     r.Session,
		Seq:           r.Seq,
		Timestamp:     r.Timestamp,
		LatencyMicros: r.Latency.Microseconds(),
		MaskPixels:    r.MaskPixels,
		Clusters:      r.Clusters,
		Targets:       r.Targets,
		DX:            r.Command.DX,
		DY:            r.Command.DY,
		Click:         r.Command.Click,
		SceneCut:      r.SceneCut,
		Err:           r.Err,
	}
	if t := r.Active; t != nil {
		rec.TargetID, rec.TargetX, rec.TargetY = t.ID, t.X, t.Y
	}
	j.batcher.Add(rec)
}

func (j *Journal) SessionEnded(s pipeline.Summary) {
	j.batcher.Flush()
	j.batcher.Wait()
	err := j.db.Model(&Session{ID: s.ID}).Updates(map[string]any{
		"ended_at":       s.Ended,
		"state":          s.State.String(),
		"fault":          s.Fault,
		"acquired":       s.Stats.Acquired,
		"processed":      s.Stats.Processed,
		"superseded":     s.Stats.Superseded,
		"unsupported":    s.Stats.Unsupported,
		"input_failures": s.Stats.InputFailures,
		"timeouts":       s.Stats.Timeouts,
		"reinits":        s.Stats.Reinits,
		"scene_cuts":     s.Stats.SceneCuts,
	}).Error
	if err != nil {
		slog.Warn("journal: recording session end", "session", s.ID, "error", err)
	}
}

// Sessions returns recorded sessions, newest first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]Session, error) {
	var out []Session
	err := j.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Transitions returns the lifecycle of a session in order.
func (j *Journal) Transitions(ctx context.Context, session string) ([]Transition, error) {
	var out []Transition
	err := j.db.WithContext(ctx).Where("session_id = ?", session).Order("id").Find(&out).Error
	return out, err
}

// Frames returns the recorded frames of a session in sequence order.
func (j *Journal) Frames(ctx context.Context, session string) ([]FrameRecord, error) {
	var out []FrameRecord
	err := j.db.WithContext(ctx).Where("session_id = ?", session).Order("seq").Find(&out).Error
	return out, err
}

// Close flushes pending frames and closes the database.
func (j *Journal) Close() error {
	j.batcher.Stop()
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
