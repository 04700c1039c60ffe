// Package storage persists per-guild records in a JSON datastore.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keshon/datastore"
	"github.com/keshon/melodeck/internal/music/track"
)

const commandHistoryLimit int = 20

type Storage struct {
	ds   *datastore.DataStore
	stop context.CancelFunc
	mu   sync.Mutex // serialises read-modify-write of a record
}

type CommandHistoryRecord struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Command   string    `json:"command"`
	Param     string    `json:"param"`
	Datetime  time.Time `json:"datetime"`
}

// PlayerPrefs are the player settings a guild keeps between sessions.
type PlayerPrefs struct {
	Volume    int            `json:"volume"`
	Loop      track.LoopMode `json:"loop"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Record struct {
	CommandsHistoryList []CommandHistoryRecord `json:"cmd_history"`
	Player              *PlayerPrefs           `json:"player,omitempty"`
}

// New opens the datastore at filePath. Its periodic save runs until ctx is
// done or Close is called.
func New(ctx context.Context, filePath string, opts ...datastore.Option) (*Storage, error) {
	ctx, stop := context.WithCancel(ctx)
	ds, err := datastore.New(ctx, filePath, opts...)
	if err != nil {
		stop()
		return nil, err
	}
	return &Storage{ds: ds, stop: stop}, nil
}

// Close stops the periodic save and writes the store one last time.
func (s *Storage) Close() error {
	s.stop()
	return s.ds.Close()
}

// getGuildRecord decodes the stored record of a guild, or an empty one.
func (s *Storage) getGuildRecord(guildID string) (*Record, error) {
	var record Record
	exists, err := s.ds.Get(guildID, &record)
	if err != nil {
		return nil, fmt.Errorf("error decoding record of %s: %w", guildID, err)
	}
	if !exists {
		return &Record{CommandsHistoryList: []CommandHistoryRecord{}}, nil
	}
	if len(record.CommandsHistoryList) > commandHistoryLimit {
		record.CommandsHistoryList = record.CommandsHistoryList[len(record.CommandsHistoryList)-commandHistoryLimit:]
	}
	return &record, nil
}

func (s *Storage) update(guildID string, fn func(r *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.getGuildRecord(guildID)
	if err != nil {
		return err
	}
	fn(record)
	if err := s.ds.Set(guildID, record); err != nil {
		return fmt.Errorf("error storing record of %s: %w", guildID, err)
	}
	return nil
}

// AppendCommandToHistory keeps the last commandHistoryLimit commands of a guild.
func (s *Storage) AppendCommandToHistory(guildID string, command CommandHistoryRecord) error {
	return s.update(guildID, func(r *Record) {
		r.CommandsHistoryList = append(r.CommandsHistoryList, command)
		if n := len(r.CommandsHistoryList); n > commandHistoryLimit {
			r.CommandsHistoryList = r.CommandsHistoryList[n-commandHistoryLimit:]
		}
	})
}

func (s *Storage) FetchCommandHistory(guildID string) ([]CommandHistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.getGuildRecord(guildID)
	if err != nil {
		return nil, err
	}
	return record.CommandsHistoryList, nil
}

// PlayerPrefs returns the stored player settings of a guild.
func (s *Storage) PlayerPrefs(guildID string) (PlayerPrefs, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.getGuildRecord(guildID)
	if err != nil || record.Player == nil {
		return PlayerPrefs{}, false
	}
	return *record.Player, true
}

func (s *Storage) SetPlayerPrefs(guildID string, prefs PlayerPrefs) error {
	if prefs.UpdatedAt.IsZero() {
		prefs.UpdatedAt = time.Now()
	}
	return s.update(guildID, func(r *Record) {
		r.Player = &prefs
	})
}
