package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	logx "remindd/pkg/logx"
)

// kvEntry is one key of the reminder store.
type kvEntry struct {
	Key       string `gorm:"primaryKey;type:varchar(255)"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (kvEntry) TableName() string { return "remindd_kv" }

// dispatchLog mirrors DispatchRecord.
type dispatchLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	At         time.Time `gorm:"index;not null"`
	ReminderID string    `gorm:"type:varchar(64);not null"`
	EventID    string    `gorm:"type:varchar(255);index;not null"`
	Phone      string    `gorm:"type:varchar(32);not null"`
	Channel    string    `gorm:"type:varchar(20)"` // sms, whatsapp, telegram, http
	Status     string    `gorm:"type:varchar(20)"` // sent, failed
	MessageID  string    `gorm:"type:varchar(64)"`
	Error      string    `gorm:"type:text"`
	TookMS     int64
}

func (dispatchLog) TableName() string { return "remindd_dispatch_log" }

func (d *dispatchLog) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

type postgresStore struct {
	db  *gorm.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&kvEntry{}, &dispatchLog{}); err != nil {
		if sqlDB, e := db.DB(); e == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var e kvEntry
	err := s.db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return e.Value, true, nil
}

func (s *postgresStore) Set(ctx context.Context, key, value string) error {
	e := kvEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (s *postgresStore) AppendDispatch(ctx context.Context, r DispatchRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return s.db.WithContext(ctx).Create(&dispatchLog{
		At:         r.At,
		ReminderID: r.ReminderID,
		EventID:    r.EventID,
		Phone:      r.Phone,
		Channel:    r.Channel,
		Status:     r.Status,
		MessageID:  r.MessageID,
		Error:      r.Error,
		TookMS:     r.TookMS,
	}).Error
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
