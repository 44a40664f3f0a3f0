// Package sqlstore is the pluggable durable backing for flow/job registries
// that spec.md §3 allows ("the core exposes in-memory registries; durability
// is pluggable"). It is grounded on the teacher's internal/db.PostgresService
// (DSN assembly, gormLogger config ignoring record-not-found noise,
// AutoMigrate-on-boot shape) generalized to also dial sqlite for
// single-process/test deployments, matching the rest of the engine's
// memory-or-backend duality (internal/storage/idempotency, internal/eventbus).
//
// sqlstore never backs live scheduling state: JobContext and Flow stay
// authoritative in memory for the reasons §3 gives (exclusive worker
// ownership, per-job locking). What lands here is a point-in-time snapshot
// of a flow or a job, written only by explicit SaveFlow/SaveJob calls and
// read back by LoadFlowDocument/LoadJob/ListJobsByFlow. engine.Runtime does
// not call them, so nothing is saved automatically when a job finishes or a
// flow is registered.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/jobctx"
	"github.com/routilux/routilux-go/internal/logger"
)

func marshalAny(v any) ([]byte, error) { return json.Marshal(v) }

// FlowRecord is the durable snapshot of a registered flow's graph shape
// (the §6 serialization document, stored verbatim).
type FlowRecord struct {
	FlowID    string `gorm:"primaryKey"`
	Name      string `gorm:"index"`
	Document  datatypes.JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobRecord is the durable snapshot of a job at the time it was saved:
// status, metadata, and its execution history, matching jobctx.JobContext's
// exported shape minus the live routine-state bags (those are scheduler
// working memory, not archival data).
type JobRecord struct {
	JobID       string `gorm:"primaryKey"`
	WorkerID    string `gorm:"index"`
	FlowID      string `gorm:"index"`
	Status      string
	Error       string
	Metadata    datatypes.JSON
	History     datatypes.JSON
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Store wraps a *gorm.DB with the narrow read/write surface the engine
// needs: save a flow or job snapshot, load one back by id.
type Store struct {
	db *gorm.DB
}

// Open dials either "postgres" or "sqlite" per driver, mirroring the
// teacher's NewPostgresService for the postgres leg and adding sqlite for
// environments with no Postgres configured (tests, single-binary demos).
func Open(driver, dsn string, log *logger.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logger.Nop()
	}
	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		if dsn == "" {
			return nil, fmt.Errorf("sqlstore: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unknown driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		log.Error("sqlstore: connect failed", "driver", driver, "error", err)
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	return db, nil
}

// NewStore wraps db and runs AutoMigrate for the two snapshot tables.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&FlowRecord{}, &JobRecord{}); err != nil {
		return nil, fmt.Errorf("sqlstore: automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveFlow upserts f's §6 serialization document, keyed by flow id.
func (s *Store) SaveFlow(ctx context.Context, f *flow.Flow) error {
	doc, err := flow.Serialize(f)
	if err != nil {
		return fmt.Errorf("sqlstore: serialize flow: %w", err)
	}
	rec := FlowRecord{FlowID: f.ID, Name: f.Name, Document: datatypes.JSON(doc)}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// LoadFlowDocument returns the raw §6 document for flowID, for callers that
// want to rebuild via flow.Deserialize against their own factory.
func (s *Store) LoadFlowDocument(ctx context.Context, flowID string) ([]byte, error) {
	var rec FlowRecord
	if err := s.db.WithContext(ctx).First(&rec, "flow_id = ?", flowID).Error; err != nil {
		return nil, err
	}
	return rec.Document, nil
}

// SaveJob upserts a point-in-time snapshot of jc.
func (s *Store) SaveJob(ctx context.Context, jc *jobctx.JobContext) error {
	meta, err := marshalAny(jc.Metadata())
	if err != nil {
		return fmt.Errorf("sqlstore: marshal job metadata: %w", err)
	}
	hist, err := marshalAny(jc.History())
	if err != nil {
		return fmt.Errorf("sqlstore: marshal job history: %w", err)
	}
	errText := ""
	if err := jc.LastError(); err != nil {
		errText = err.Error()
	}
	rec := JobRecord{
		JobID:       jc.JobID,
		WorkerID:    jc.WorkerID,
		FlowID:      jc.FlowID,
		Status:      string(jc.Status()),
		Error:       errText,
		Metadata:    datatypes.JSON(meta),
		History:     datatypes.JSON(hist),
		CreatedAt:   jc.CreatedAt,
		StartedAt:   jc.StartedAt,
		CompletedAt: jc.CompletedAt,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// LoadJob returns the last saved snapshot for jobID.
func (s *Store) LoadJob(ctx context.Context, jobID string) (JobRecord, error) {
	var rec JobRecord
	err := s.db.WithContext(ctx).First(&rec, "job_id = ?", jobID).Error
	return rec, err
}

// ListJobsByFlow returns every saved snapshot for flowID, newest first.
func (s *Store) ListJobsByFlow(ctx context.Context, flowID string) ([]JobRecord, error) {
	var recs []JobRecord
	err := s.db.WithContext(ctx).Where("flow_id = ?", flowID).Order("created_at desc").Find(&recs).Error
	return recs, err
}
