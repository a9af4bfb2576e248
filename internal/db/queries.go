package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/models"
)

// Membership queries

// IsMember reports whether userID is a durable member of roomID.
func (db *Database) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chatroom_members WHERE chatroom_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	return exists, err
}

// MembersOf returns every member of roomID in one query.
func (db *Database) MembersOf(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := db.Query(ctx,
		`SELECT user_id FROM chatroom_members WHERE chatroom_id = $1 ORDER BY user_id`,
		roomID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// AddMember adds userID to a group room. Adding an existing member is a no-op.
func (db *Database) AddMember(ctx context.Context, roomID, userID int64) error {
	if err := db.requireGroupRoom(ctx, roomID); err != nil {
		return err
	}
	if _, err := db.GetUserByID(ctx, userID); err != nil {
		return err
	}
	_, err := db.Exec(ctx,
		`INSERT INTO chatroom_members (chatroom_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (chatroom_id, user_id) DO NOTHING`,
		roomID, userID,
	)
	return err
}

// RemoveMember durably removes userID from a group room.
func (db *Database) RemoveMember(ctx context.Context, roomID, userID int64) error {
	if err := db.requireGroupRoom(ctx, roomID); err != nil {
		return err
	}
	_, err := db.Exec(ctx,
		`DELETE FROM chatroom_members WHERE chatroom_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	return err
}

func (db *Database) requireGroupRoom(ctx context.Context, roomID int64) error {
	room, err := db.GetRoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Kind == models.RoomKindDirect {
		return fmt.Errorf("room %d: %w", roomID, apperr.ErrDirectRoomImmutable)
	}
	return nil
}

// Room queries

// GetRoomByID returns apperr.ErrRoomNotFound when the room does not exist.
func (db *Database) GetRoomByID(ctx context.Context, roomID int64) (*models.Room, error) {
	var room models.Room
	err := db.QueryRow(ctx,
		`SELECT id, name, kind, created_at FROM chatrooms WHERE id = $1`,
		roomID,
	).Scan(&room.ID, &room.Name, &room.Kind, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %d: %w", roomID, apperr.ErrRoomNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (db *Database) GetRoomsByUser(ctx context.Context, userID int64) ([]models.Room, error) {
	rows, err := db.Query(ctx,
		`SELECT r.id, r.name, r.kind, r.created_at
		 FROM chatrooms r
		 INNER JOIN chatroom_members m ON r.id = m.chatroom_id
		 WHERE m.user_id = $1
		 ORDER BY r.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.Kind, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// CreateDirectRoom creates a one-to-one room whose membership is exactly
// userID and friendID. Both users must exist.
func (db *Database) CreateDirectRoom(ctx context.Context, userID, friendID int64) (*models.Room, error) {
	if userID == friendID {
		return nil, fmt.Errorf("direct room with self: %w", apperr.ErrInvalidEvent)
	}
	return db.createRoom(ctx, "one-to-one", models.RoomKindDirect, userID, friendID)
}

// CreateGroupRoom creates a group room with userID as its first member.
func (db *Database) CreateGroupRoom(ctx context.Context, name string, userID int64) (*models.Room, error) {
	return db.createRoom(ctx, name, models.RoomKindGroup, userID)
}

func (db *Database) createRoom(ctx context.Context, name string, kind models.RoomKind, members ...int64) (*models.Room, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room := &models.Room{Name: name, Kind: kind}
	if err := tx.QueryRow(ctx,
		`INSERT INTO chatrooms (name, kind) VALUES ($1, $2) RETURNING id, created_at`,
		name, kind,
	).Scan(&room.ID, &room.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert chatroom: %w", err)
	}

	for _, userID := range members {
		if _, err := getUser(ctx, tx, userID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chatroom_members (chatroom_id, user_id) VALUES ($1, $2)`,
			room.ID, userID,
		); err != nil {
			return nil, fmt.Errorf("insert member %d: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

// User queries

// rowQuerier is satisfied by both the Database and an open pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

// GetUserByID returns apperr.ErrUserNotFound when the user does not exist.
func (db *Database) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	return getUser(ctx, db, userID)
}

func getUser(ctx context.Context, q rowQuerier, userID int64) (*models.User, error) {
	var user models.User
	err := q.QueryRow(ctx,
		`SELECT id, username, nick_name, email, head_pic, created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Username, &user.NickName, &user.Email, &user.HeadPic, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, apperr.ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUsersByIDs resolves many users in a single query. Unknown ids are skipped.
func (db *Database) GetUsersByIDs(ctx context.Context, userIDs []int64) ([]models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := db.Query(ctx,
		`SELECT id, username, nick_name, email, head_pic, created_at FROM users WHERE id = ANY($1)`,
		userIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.NickName, &user.Email, &user.HeadPic, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
