// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/bingoserver/logger"
	"github.com/wfunc/bingoserver/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const queryTimeout = 5 * time.Second

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// DSN builds a key/value connection string understood by both pgx and lib/pq.
func DSN(host string, port int, user, password, dbname, sslmode string) string {
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

// zapWriter routes gorm's logger through zap.
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.Log.Warnf(format, args...)
}

// NewGormPostgreSQL connects, migrates the schema and installs the change
// notification triggers.
func NewGormPostgreSQL(dsn string) (*GormPostgreSQL, error) {
	gormLogger := gormlogger.New(
		zapWriter{},
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	if err := InstallNotifyTriggers(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.GameTemplate{},
		&models.FieldTemplate{},
		&models.Game{},
		&models.Player{},
		&models.Field{},
	)
}

func (p *GormPostgreSQL) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int64
	err := p.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error
	return count > 0, err
}

func (p *GormPostgreSQL) CreateUser(ctx context.Context) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	user := models.User{ID: uuid.New()}
	if err := p.db.WithContext(ctx).Create(&user).Error; err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// IsActivePlayer reports whether userID plays gameID and the game is open.
func (p *GormPostgreSQL) IsActivePlayer(ctx context.Context, userID, gameID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int64
	err := p.db.WithContext(ctx).
		Table("games AS g").
		Joins("JOIN players AS p ON p.game_id = g.id").
		Where("p.user_id = ? AND g.id = ? AND g.closed = ?", userID, gameID, false).
		Count(&count).Error
	return count > 0, err
}

func (p *GormPostgreSQL) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var game models.Game
	if err := p.db.WithContext(ctx).Where("id = ?", gameID).First(&game).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &game, nil
}

func (p *GormPostgreSQL) FetchFields(ctx context.Context, gameID, userID uuid.UUID) ([]models.FieldRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return QueryFields(p.db.WithContext(ctx), gameID, userID)
}

func (p *GormPostgreSQL) FetchPlayers(ctx context.Context, gameID uuid.UUID) ([]models.PlayerRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return QueryPlayers(p.db.WithContext(ctx), gameID)
}

// QueryFields lists a player's card ordered by position. db may be a transaction.
func QueryFields(db *gorm.DB, gameID, userID uuid.UUID) ([]models.FieldRow, error) {
	var rows []models.FieldRow
	err := db.Raw(`
        SELECT
            f.id AS id,
            f.position AS position,
            f.checked AS checked,
            ft.caption AS caption
        FROM fields AS f
        JOIN field_templates AS ft ON f.field_template_id = ft.id
        WHERE f.game_id = ? AND f.user_id = ?
        ORDER BY f.position`,
		gameID, userID,
	).Scan(&rows).Error
	return rows, err
}

// QueryPlayers lists the players of a game with their hit vectors.
func QueryPlayers(db *gorm.DB, gameID uuid.UUID) ([]models.PlayerRow, error) {
	var rows []models.PlayerRow
	err := db.Raw(`
        SELECT
            p.user_id AS user_id,
            p.username AS username,
            array_agg(f.checked ORDER BY f.position ASC) AS hits
        FROM players AS p
        JOIN fields AS f ON f.user_id = p.user_id AND f.game_id = p.game_id
        WHERE p.game_id = ?
        GROUP BY p.user_id, p.username
        ORDER BY p.username DESC`,
		gameID,
	).Scan(&rows).Error
	return rows, err
}

func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *GormPostgreSQL) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return p.db.WithContext(ctx).Transaction(fn)
}
