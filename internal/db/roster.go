package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

const rosterSchema = `
	CREATE TABLE IF NOT EXISTS parties (
		session TEXT NOT NULL,
		leader TEXT NOT NULL,
		team INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (session, leader)
	);

	CREATE TABLE IF NOT EXISTS party_members (
		session TEXT NOT NULL,
		leader TEXT NOT NULL,
		position INTEGER NOT NULL,
		net_id TEXT NOT NULL,
		skill INTEGER NOT NULL,
		mu REAL NOT NULL,
		sigma REAL NOT NULL,
		PRIMARY KEY (session, leader, position),
		FOREIGN KEY (session, leader) REFERENCES parties(session, leader) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS reservation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		leader TEXT NOT NULL,
		party_size INTEGER NOT NULL,
		result TEXT NOT NULL,
		remaining INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservation_log_session ON reservation_log(session);
	CREATE INDEX IF NOT EXISTS idx_reservation_log_created ON reservation_log(created_at);
`

// RosterDatabase records which parties hold reservations in each session
// and keeps an audit trail of every reservation request.
type RosterDatabase struct {
	db     *Database
	logger zerolog.Logger
}

// AuditEntry is one row of the reservation log.
type AuditEntry struct {
	ID        int64                      `json:"id"`
	Session   string                     `json:"session"`
	Leader    protocol.UniqueNetID       `json:"leader"`
	PartySize int                        `json:"party_size"`
	Result    protocol.ReservationResult `json:"result"`
	Remaining int                        `json:"remaining"`
	CreatedAt time.Time                  `json:"created_at"`
}

// NewRosterDatabase opens the database at dbPath and migrates the schema.
func NewRosterDatabase(dbPath string) (*RosterDatabase, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	if err := database.Migrate(rosterSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate roster database: %w", err)
	}

	return &RosterDatabase{
		db:     database,
		logger: log.With().Str("component", "roster_db").Logger(),
	}, nil
}

// RegisterParty stores a new reservation. Errors are logged; the beacon
// keeps running without its roster.
func (r *RosterDatabase) RegisterParty(session string, res beacon.PartyReservation) {
	if err := r.SaveParty(session, res); err != nil {
		r.logger.Error().Err(err).Stringer("leader", res.PartyLeader).Msg("failed to register party")
	}
}

// UnregisterParty removes a reservation. Errors are logged.
func (r *RosterDatabase) UnregisterParty(session string, leader protocol.UniqueNetID) {
	if err := r.DeleteParty(session, leader); err != nil {
		r.logger.Error().Err(err).Stringer("leader", leader).Msg("failed to unregister party")
	}
}

// SaveParty inserts or replaces a party and its members.
func (r *RosterDatabase) SaveParty(session string, res beacon.PartyReservation) error {
	leader := res.PartyLeader.String()
	return r.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM parties WHERE session = ? AND leader = ?", session, leader); err != nil {
			return fmt.Errorf("failed to clear party %s: %w", leader, err)
		}

		_, err := tx.Exec(
			"INSERT INTO parties (session, leader, team, created_at) VALUES (?, ?, ?, ?)",
			session, leader, res.TeamNum, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert party %s: %w", leader, err)
		}

		for i, m := range res.PartyMembers {
			_, err := tx.Exec(
				"INSERT INTO party_members (session, leader, position, net_id, skill, mu, sigma) VALUES (?, ?, ?, ?, ?, ?, ?)",
				session, leader, i, m.NetID.String(), m.Skill, m.Mu, m.Sigma)
			if err != nil {
				return fmt.Errorf("failed to insert member %s: %w", m.NetID, err)
			}
		}

		r.logger.Debug().
			Str("session", session).
			Str("leader", leader).
			Int("members", len(res.PartyMembers)).
			Msg("party stored")
		return nil
	})
}

// DeleteParty removes one party and its members.
func (r *RosterDatabase) DeleteParty(session string, leader protocol.UniqueNetID) error {
	_, err := r.db.Exec("DELETE FROM parties WHERE session = ? AND leader = ?", session, leader.String())
	return err
}

// ClearSession drops every party of a session, e.g. left over from a
// previous run.
func (r *RosterDatabase) ClearSession(session string) error {
	res, err := r.db.Exec("DELETE FROM parties WHERE session = ?", session)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logger.Info().Str("session", session).Int64("parties", n).Msg("cleared stale parties")
	}
	return nil
}

// Parties returns every party of a session in the order they were stored.
func (r *RosterDatabase) Parties(session string) ([]beacon.PartyReservation, error) {
	rows, err := r.db.Query(`
		SELECT p.leader, p.team, m.net_id, m.skill, m.mu, m.sigma
		FROM parties p
		LEFT JOIN party_members m ON m.session = p.session AND m.leader = p.leader
		WHERE p.session = ?
		ORDER BY p.rowid, m.position
	`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parties []beacon.PartyReservation
	for rows.Next() {
		var (
			leaderHex string
			team      int
			netID     sql.NullString
			skill     sql.NullInt32
			mu, sigma sql.NullFloat64
		)
		if err := rows.Scan(&leaderHex, &team, &netID, &skill, &mu, &sigma); err != nil {
			return nil, fmt.Errorf("failed to scan party: %w", err)
		}

		leader, err := protocol.ParseUniqueNetID(leaderHex)
		if err != nil {
			return nil, err
		}
		if len(parties) == 0 || parties[len(parties)-1].PartyLeader != leader {
			parties = append(parties, beacon.PartyReservation{PartyLeader: leader, TeamNum: team})
		}
		if !netID.Valid {
			continue
		}

		id, err := protocol.ParseUniqueNetID(netID.String)
		if err != nil {
			return nil, err
		}
		p := &parties[len(parties)-1]
		p.PartyMembers = append(p.PartyMembers, protocol.PlayerReservation{
			NetID: id,
			Skill: skill.Int32,
			Mu:    float32(mu.Float64),
			Sigma: float32(sigma.Float64),
		})
	}
	return parties, rows.Err()
}

// RecordResult appends one reservation outcome to the audit log.
func (r *RosterDatabase) RecordResult(session string, leader protocol.UniqueNetID, partySize int, result protocol.ReservationResult, remaining int) error {
	_, err := r.db.Exec(
		"INSERT INTO reservation_log (session, leader, party_size, result, remaining, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		session, leader.String(), partySize, result.String(), remaining, time.Now().UTC())
	return err
}

// RecentResults returns up to limit audit entries, newest first.
func (r *RosterDatabase) RecentResults(limit int) ([]AuditEntry, error) {
	rows, err := r.db.Query(
		"SELECT id, session, leader, party_size, result, remaining, created_at FROM reservation_log ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e         AuditEntry
			leaderHex string
			result    string
		)
		if err := rows.Scan(&e.ID, &e.Session, &leaderHex, &e.PartySize, &result, &e.Remaining, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Leader, err = protocol.ParseUniqueNetID(leaderHex); err != nil {
			return nil, err
		}
		e.Result = protocol.ResultFromString(result)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CleanOldResults removes audit entries older than the given number of days.
func (r *RosterDatabase) CleanOldResults(days int) (int64, error) {
	res, err := r.db.Exec("DELETE FROM reservation_log WHERE created_at < ?", time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (r *RosterDatabase) Close() error {
	return r.db.Close()
}
