package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"skyforge/internal/domain"
)

// generationJobRow is the gorm model of a job. JSON payloads are kept as text
// so the same schema works on sqlite and mysql.
type generationJobRow struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)"`
	RequesterID    string     `gorm:"type:varchar(191);index:idx_generation_jobs_requester_status,priority:1"`
	Prompt         string     `gorm:"type:text"`
	Status         string     `gorm:"type:varchar(16);index:idx_generation_jobs_requester_status,priority:2"`
	Request        string     `gorm:"type:text"`
	ImageResult    string     `gorm:"type:text"`
	MeshResult     string     `gorm:"type:text"`
	ImageURL       string     `gorm:"type:text"`
	MeshURL        string     `gorm:"type:text"`
	Errors         string     `gorm:"type:text"`
	Metadata       string     `gorm:"type:text"`
	LeaseToken     string     `gorm:"type:varchar(64)"`
	LeaseExpiresAt *time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (generationJobRow) TableName() string { return "generation_jobs" }

// JobRepositoryGorm implements domain.JobRepository through gorm.
type JobRepositoryGorm struct {
	db      *gorm.DB
	now     func() time.Time
	locking bool
}

// OpenGormJobRepository opens the sqlite or mysql store and migrates its schema.
func OpenGormJobRepository(driver, dsn string) (*JobRepositoryGorm, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		PrepareStmt:    true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s job store: %w", driver, err)
	}
	if driver == "sqlite" {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return NewGormJobRepository(db)
}

// NewGormJobRepository wraps an open gorm handle and migrates the jobs table.
func NewGormJobRepository(db *gorm.DB) (*JobRepositoryGorm, error) {
	if err := db.AutoMigrate(&generationJobRow{}); err != nil {
		return nil, fmt.Errorf("migrate generation_jobs: %w", err)
	}
	return &JobRepositoryGorm{
		db:      db,
		now:     func() time.Time { return time.Now().UTC() },
		locking: db.Dialector.Name() != "sqlite",
	}, nil
}

// Ping checks the underlying connection.
func (r *JobRepositoryGorm) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (r *JobRepositoryGorm) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// forUpdate row-locks selected rows where the dialect supports it.
func (r *JobRepositoryGorm) forUpdate(tx *gorm.DB) *gorm.DB {
	if !r.locking {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *JobRepositoryGorm) Create(ctx context.Context, job *domain.Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []generationJobRow
		err := r.forUpdate(tx).
			Where("requester_id = ? AND status = ?", job.RequesterID, string(domain.JobStatusPending)).
			Find(&stale).Error
		if err != nil {
			return err
		}
		for i := range stale {
			existing := &stale[i]
			if existing.LeaseExpiresAt == nil || existing.LeaseExpiresAt.After(job.CreatedAt) {
				return domain.ErrRunInProgress
			}
			if err := expireRow(tx, existing, job.CreatedAt, LeaseExpiredMessage); err != nil {
				return err
			}
		}
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrRunInProgress
			}
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

func (r *JobRepositoryGorm) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var row generationJobRow
	if err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return fromJobRow(&row)
}

func (r *JobRepositoryGorm) Update(ctx context.Context, jobID string, patch domain.JobPatch) (*domain.Job, error) {
	var out *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row generationJobRow
		if err := r.forUpdate(tx).Where("id = ?", jobID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if row.Status != string(domain.JobStatusPending) {
			return domain.ErrJobFinalized
		}
		job, err := fromJobRow(&row)
		if err != nil {
			return err
		}
		job.Apply(patch, r.now())
		updated, err := toJobRow(job)
		if err != nil {
			return err
		}
		if err := saveRow(tx, updated); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *JobRepositoryGorm) RenewLease(ctx context.Context, jobID, token string, until time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row generationJobRow
		if err := r.forUpdate(tx).Where("id = ?", jobID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if row.Status != string(domain.JobStatusPending) || token == "" || row.LeaseToken != token {
			return domain.ErrJobFinalized
		}
		return tx.Model(&generationJobRow{ID: row.ID}).Updates(map[string]any{
			"lease_expires_at": until.UTC(),
			"updated_at":       r.now(),
		}).Error
	})
}

func (r *JobRepositoryGorm) ExpireLeases(ctx context.Context, now time.Time, reason string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []generationJobRow
		err := r.forUpdate(tx).
			Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?", string(domain.JobStatusPending), now).
			Order("id").
			Find(&rows).Error
		if err != nil {
			return err
		}
		for i := range rows {
			if err := expireRow(tx, &rows[i], now, reason); err != nil {
				return err
			}
			ids = append(ids, rows[i].ID)
		}
		return nil
	})
	return ids, err
}

func expireRow(tx *gorm.DB, row *generationJobRow, now time.Time, reason string) error {
	job, err := fromJobRow(row)
	if err != nil {
		return err
	}
	failed := domain.JobStatusFailed
	job.Apply(domain.JobPatch{Status: &failed, AppendErrors: []string{reason}, ReleaseLease: true}, now)
	updated, err := toJobRow(job)
	if err != nil {
		return err
	}
	return saveRow(tx, updated)
}

func saveRow(tx *gorm.DB, row *generationJobRow) error {
	return tx.Model(&generationJobRow{ID: row.ID}).Select("*").Omit("id", "created_at").Updates(row).Error
}

func toJobRow(job *domain.Job) (*generationJobRow, error) {
	request, err := marshalNullable(job.Request)
	if err != nil {
		return nil, err
	}
	imageResult, err := marshalNullable(job.ImageResult)
	if err != nil {
		return nil, err
	}
	meshResult, err := marshalNullable(job.MeshResult)
	if err != nil {
		return nil, err
	}
	errs, err := json.Marshal(nonNilErrors(job.Errors))
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return nil, err
	}
	return &generationJobRow{
		ID:             job.ID,
		RequesterID:    job.RequesterID,
		Prompt:         job.Prompt,
		Status:         string(job.Status),
		Request:        string(request),
		ImageResult:    string(imageResult),
		MeshResult:     string(meshResult),
		ImageURL:       job.ImageURL,
		MeshURL:        job.MeshURL,
		Errors:         string(errs),
		Metadata:       string(meta),
		LeaseToken:     job.LeaseToken,
		LeaseExpiresAt: job.LeaseExpiresAt,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}, nil
}

func fromJobRow(row *generationJobRow) (*domain.Job, error) {
	job := &domain.Job{
		ID:             row.ID,
		RequesterID:    row.RequesterID,
		Prompt:         row.Prompt,
		Status:         domain.JobStatus(row.Status),
		ImageURL:       row.ImageURL,
		MeshURL:        row.MeshURL,
		LeaseToken:     row.LeaseToken,
		LeaseExpiresAt: row.LeaseExpiresAt,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if job.LeaseExpiresAt != nil {
		exp := job.LeaseExpiresAt.UTC()
		job.LeaseExpiresAt = &exp
	}
	err := decodeJobJSON(job,
		[]byte(row.Request),
		[]byte(row.ImageResult),
		[]byte(row.MeshResult),
		[]byte(row.Errors),
		[]byte(row.Metadata),
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

var _ domain.JobRepository = (*JobRepositoryGorm)(nil)
