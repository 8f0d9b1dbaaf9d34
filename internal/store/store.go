package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a room or message does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the gorm handle used by the chat HTTP API.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path and migrates the chat schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// A single connection keeps ":memory:" databases shared across calls.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&ChatRoom{}, &ChatMessage{}, &User{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// JoinRideRoom returns the room for rideID with userID in its member list,
// creating the room or appending the member as needed.
func (s *Store) JoinRideRoom(ctx context.Context, rideID, userID string) (*ChatRoom, error) {
	var room ChatRoom
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("ride_id = ?", rideID).First(&room).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			room = ChatRoom{
				ID:       uuid.NewString(),
				RideID:   &rideID,
				Members:  []string{userID},
				IsActive: true,
			}
			return tx.Create(&room).Error
		case err != nil:
			return err
		}

		if room.HasMember(userID) {
			return nil
		}
		room.Members = append(room.Members, userID)
		return tx.Model(&room).Update("members", room.Members).Error
	})
	if err != nil {
		return nil, fmt.Errorf("join ride room %s: %w", rideID, err)
	}
	return &room, nil
}

// DirectRoom returns the room whose member set is exactly {a, b}, creating it
// when no such room exists.
func (s *Store) DirectRoom(ctx context.Context, a, b string) (*ChatRoom, error) {
	var room ChatRoom
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []ChatRoom
		if err := tx.Where("ride_id IS NULL").Order("created_at ASC").Find(&candidates).Error; err != nil {
			return err
		}
		for _, c := range candidates {
			if len(c.Members) == 2 && c.HasMember(a) && c.HasMember(b) {
				room = c
				return nil
			}
		}

		room = ChatRoom{
			ID:       uuid.NewString(),
			Members:  []string{a, b},
			IsActive: true,
		}
		return tx.Create(&room).Error
	})
	if err != nil {
		return nil, fmt.Errorf("direct room %s/%s: %w", a, b, err)
	}
	return &room, nil
}

// ListRooms returns every persisted room, oldest first.
func (s *Store) ListRooms(ctx context.Context) ([]ChatRoom, error) {
	var rooms []ChatRoom
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// AppendMessage stores a new message in roomID.
func (s *Store) AppendMessage(ctx context.Context, senderID, roomID, content string) (*ChatMessage, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}

	msg := &ChatMessage{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		RoomID:    roomID,
		Content:   content,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("append message to %s: %w", roomID, err)
	}
	return msg, nil
}

// History returns the visible messages of roomID, oldest first, with sender
// names resolved from the user directory. Unknown senders get an empty name.
// A room that does not exist yields ErrNotFound.
func (s *Store) History(ctx context.Context, roomID string) ([]HistoryEntry, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}

	var msgs []ChatMessage
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND is_deleted = ? AND is_active = ?", roomID, false, true).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", roomID, err)
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	names, err := s.displayNames(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, HistoryEntry{
			Message:    m.Content,
			SenderName: names[m.SenderID],
			SenderID:   m.SenderID,
			RoomID:     m.RoomID,
			Date:       m.CreatedAt,
		})
	}
	return entries, nil
}

func (s *Store) requireRoom(ctx context.Context, roomID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ChatRoom{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return fmt.Errorf("lookup room %s: %w", roomID, err)
	}
	if count == 0 {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return nil
}

// displayNames resolves userIDs in one query. Users missing from the
// directory are absent from the result.
func (s *Store) displayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	ids := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var users []User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("resolve sender names: %w", err)
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}

// DeleteMessage soft-deletes a message so it no longer appears in history.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&ChatMessage{}).Where("id = ?", id).Update("is_deleted", true)
	if res.Error != nil {
		return fmt.Errorf("delete message %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// DisplayName resolves a user identifier to its username through the same
// directory lookup History uses. The user directory is owned by the account
// service; DisplayName and SaveUser are its entry points into this store.
func (s *Store) DisplayName(ctx context.Context, userID string) (string, error) {
	names, err := s.displayNames(ctx, []string{userID})
	if err != nil {
		return "", err
	}
	name, ok := names[userID]
	if !ok {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return name, nil
}

// SaveUser inserts or updates a directory entry. Renames show up in History
// on the next read.
func (s *Store) SaveUser(ctx context.Context, id, username string) error {
	if err := s.db.WithContext(ctx).Save(&User{ID: id, Username: username}).Error; err != nil {
		return fmt.Errorf("save user %s: %w", id, err)
	}
	return nil
}
