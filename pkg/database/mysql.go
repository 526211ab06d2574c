package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/music-room-server/pkg/models"
)

var (
	ErrNotFound  = errors.New("database: not found")
	ErrDuplicate = errors.New("database: duplicate")
)

type MySQLDB struct {
	*gorm.DB
}

func NewMySQLDB(host, port, user, password, dbname string) (*MySQLDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database instance")
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return &MySQLDB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	zlog.Info().Msg("running database migrations")

	return db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.Track{},
		&models.Vote{},
	)
}

// translate marks gorm errors with the package sentinels so callers
// never need to import gorm to classify a failure.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Mark(err, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Mark(err, ErrDuplicate)
	default:
		return err
	}
}

// Identity

func (db *MySQLDB) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return user.Participant(), nil
}

// EnsureUser returns the user with u's email, creating it from u if absent.
func (db *MySQLDB) EnsureUser(ctx context.Context, u *models.User) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).
		Where(models.User{Email: u.Email}).
		Attrs(*u).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// Rooms

func (db *MySQLDB) CreateRoom(ctx context.Context, room *models.Room) error {
	return translate(db.WithContext(ctx).Create(room).Error)
}

func (db *MySQLDB) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	if err := db.WithContext(ctx).First(&room, "code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

// Tracks

// CreateTrack inserts track and fills in its database-assigned Seq.
func (db *MySQLDB) CreateTrack(ctx context.Context, track *models.Track) error {
	if err := db.WithContext(ctx).Omit("Seq").Create(track).Error; err != nil {
		return translate(err)
	}
	return translate(db.WithContext(ctx).
		Model(&models.Track{}).
		Select("seq").
		Where("id = ?", track.ID).
		Scan(&track.Seq).Error)
}

// DeactivateTrack takes a track out of the room's pending queue.
func (db *MySQLDB) DeactivateTrack(ctx context.Context, id uuid.UUID) error {
	res := db.WithContext(ctx).
		Model(&models.Track{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *MySQLDB) GetTrack(ctx context.Context, id uuid.UUID) (*models.Track, error) {
	var track models.Track
	if err := db.WithContext(ctx).First(&track, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &track, nil
}

func (db *MySQLDB) TrackExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Track{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// ListActiveTracks returns the room's pending tracks in Seq order.
func (db *MySQLDB) ListActiveTracks(ctx context.Context, roomID uuid.UUID) ([]models.Track, error) {
	var tracks []models.Track
	if err := db.WithContext(ctx).
		Where("room_id = ? AND active = ?", roomID, true).
		Order("seq ASC").
		Find(&tracks).Error; err != nil {
		return nil, translate(err)
	}
	return tracks, nil
}

// Votes

func (db *MySQLDB) CreateVote(ctx context.Context, participantID, trackID uuid.UUID) error {
	vote := &models.Vote{
		ID:        uuid.New(),
		TrackID:   trackID,
		UserID:    participantID,
		CreatedAt: time.Now(),
	}
	return translate(db.WithContext(ctx).Create(vote).Error)
}

func (db *MySQLDB) DeleteVote(ctx context.Context, participantID, trackID uuid.UUID) error {
	result := db.WithContext(ctx).
		Where("track_id = ? AND user_id = ?", trackID, participantID).
		Delete(&models.Vote{})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *MySQLDB) CountVotes(ctx context.Context, trackID uuid.UUID) (int, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Vote{}).
		Where("track_id = ?", trackID).
		Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return int(count), nil
}

func (db *MySQLDB) HasVote(ctx context.Context, participantID, trackID uuid.UUID) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Vote{}).
		Where("track_id = ? AND user_id = ?", trackID, participantID).
		Count(&count).Error; err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// CountVotesFor returns the tally of every listed track. Tracks with no
// votes are absent from the map.
func (db *MySQLDB) CountVotesFor(ctx context.Context, trackIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(trackIDs))
	if len(trackIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		TrackID uuid.UUID
		Total   int
	}
	if err := db.WithContext(ctx).Model(&models.Vote{}).
		Select("track_id, COUNT(*) as total").
		Where("track_id IN ?", trackIDs).
		Group("track_id").
		Scan(&rows).Error; err != nil {
		return nil, translate(err)
	}

	for _, row := range rows {
		counts[row.TrackID] = row.Total
	}
	return counts, nil
}

func (db *MySQLDB) VotedTracks(ctx context.Context, participantID uuid.UUID, trackIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	voted := make(map[uuid.UUID]bool)
	if len(trackIDs) == 0 {
		return voted, nil
	}

	var ids []uuid.UUID
	if err := db.WithContext(ctx).Model(&models.Vote{}).
		Where("user_id = ? AND track_id IN ?", participantID, trackIDs).
		Pluck("track_id", &ids).Error; err != nil {
		return nil, translate(err)
	}

	for _, id := range ids {
		voted[id] = true
	}
	return voted, nil
}
