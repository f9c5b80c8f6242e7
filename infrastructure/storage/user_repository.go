package storage

import (
	"chat-relay/domain"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const userPrefix = "user:"

// UserRepository is the Badger backed user directory.
// Every authenticated identity is remembered with its first and last connection time.
type UserRepository struct {
	db    *badger.DB
	log   *slog.Logger
	clock clock.Clock
}

func NewUserRepository(db *badger.DB, log *slog.Logger, clk clock.Clock) *UserRepository {
	return &UserRepository{db: db, log: log, clock: clk}
}

func (r *UserRepository) Exists(_ context.Context, userID domain.UserID) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(userID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remember creates the user on first sight and refreshes its last seen time afterwards.
func (r *UserRepository) Remember(_ context.Context, userID domain.UserID) error {
	now := r.clock.Now().UTC()
	return r.db.Update(func(txn *badger.Txn) error {
		user := domain.User{ID: userID, FirstSeenAt: now, LastSeenAt: now}
		item, err := txn.Get(userKey(userID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				existing, err := decodeUser(v)
				if err != nil {
					return err
				}
				user.FirstSeenAt = existing.FirstSeenAt
				return nil
			}); err != nil {
				return err
			}
		}
		data, err := encodeUser(user)
		if err != nil {
			return err
		}
		return txn.Set(userKey(userID), data)
	})
}

// List returns every known user ordered by id.
func (r *UserRepository) List(_ context.Context) ([]domain.User, error) {
	var users []domain.User
	prefix := []byte(userPrefix)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				user, err := decodeUser(v)
				if err != nil {
					return err
				}
				users = append(users, user)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error during user listing: %w", err)
	}
	return users, nil
}

func userKey(userID domain.UserID) []byte {
	return []byte(userPrefix + string(userID))
}

func encodeUser(user domain.User) ([]byte, error) {
	record, err := structpb.NewStruct(map[string]any{
		"id":            string(user.ID),
		"first_seen_at": user.FirstSeenAt.Format(time.RFC3339Nano),
		"last_seen_at":  user.LastSeenAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(record)
}

func decodeUser(data []byte) (domain.User, error) {
	var record structpb.Struct
	if err := proto.Unmarshal(data, &record); err != nil {
		return domain.User{}, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	fields := record.GetFields()
	firstSeen, err := time.Parse(time.RFC3339Nano, fields["first_seen_at"].GetStringValue())
	if err != nil {
		return domain.User{}, err
	}
	lastSeen, err := time.Parse(time.RFC3339Nano, fields["last_seen_at"].GetStringValue())
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:          domain.UserID(fields["id"].GetStringValue()),
		FirstSeenAt: firstSeen,
		LastSeenAt:  lastSeen,
	}, nil
}
