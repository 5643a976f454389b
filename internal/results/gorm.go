package results

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type gameRecord struct {
	ID        string         `gorm:"primaryKey;size:36"`
	Name      string         `gorm:"size:128;not null"`
	StartTime time.Time      `gorm:"not null"`
	Seconds   int            `gorm:"not null"`
	EndedAt   time.Time      `gorm:"not null"`
	Players   []playerRecord `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

func (gameRecord) TableName() string { return "game_results" }

type playerRecord struct {
	ID     uint   `gorm:"primaryKey"`
	GameID string `gorm:"size:36;index;not null"`
	Name   string `gorm:"size:128;not null"`
	Score  int    `gorm:"not null"`
	// Rank keeps the roster order on read.
	Rank int `gorm:"not null"`
}

func (playerRecord) TableName() string { return "game_result_players" }

// GormStore keeps results in Postgres.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects using dsn and migrates the result tables.
func OpenPostgres(dsn string) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("db connection is nil")
	}
	if err := db.AutoMigrate(&gameRecord{}, &playerRecord{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, r Result) error {
	rec := gameRecord{
		ID:        r.LobbyID,
		Name:      r.Name,
		StartTime: r.StartTime,
		Seconds:   r.Seconds,
		EndedAt:   r.EndedAt,
	}
	for i, p := range r.Players {
		rec.Players = append(rec.Players, playerRecord{GameID: r.LobbyID, Name: p.Name, Score: p.Score, Rank: i})
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (Result, error) {
	var rec gameRecord
	err := s.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("rank") }).
		First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}

	r := Result{
		LobbyID:   rec.ID,
		Name:      rec.Name,
		StartTime: rec.StartTime,
		Seconds:   rec.Seconds,
		EndedAt:   rec.EndedAt,
		Players:   make([]Standing, 0, len(rec.Players)),
	}
	for _, p := range rec.Players {
		r.Players = append(r.Players, Standing{Name: p.Name, Score: p.Score})
	}
	return r, nil
}

func (s *GormStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&gameRecord{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
