// Package sqlstore is a policy.Store on gorm, for sqlite and postgres.
// Limit checks and state transitions are conditional updates inside a
// transaction, so several processes can share one ledger.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yourorg/zkspend/pkg/policy"
)

type Store struct {
	db *gorm.DB
}

var _ policy.Store = (*Store)(nil)

// Dialector picks postgres for URL or key=value DSNs and sqlite for
// anything else, which is taken as a file path or ":memory:".
func Dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	d := Dialector(dsn)
	if d.Name() == "sqlite" && dsn != ":memory:" && !strings.Contains(dsn, "?") {
		d = sqlite.Open(dsn + "?_busy_timeout=5000")
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		// sqlite allows one writer; a single connection also keeps
		// ":memory:" databases from splitting per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New migrates the schema on an existing connection.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&authorizationRow{}, &ledgerRow{}, &reservationRow{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SaveAuthorization(ctx context.Context, a *policy.Authorization) error {
	return s.db.WithContext(ctx).Create(&authorizationRow{
		ID:                a.ID,
		Wallet:            a.Wallet,
		ServiceKey:        a.ServiceKey,
		MaxPerTransaction: a.MaxPerTransaction,
		MaxDailySpend:     a.MaxDailySpend,
		ValidUntil:        a.ValidUntil,
		Revoked:           a.Revoked,
		RevokedAt:         a.RevokedAt,
		Signature:         a.Signature,
		CreatedAt:         a.CreatedAt,
	}).Error
}

func (s *Store) LatestAuthorization(ctx context.Context, wallet, serviceKey string) (*policy.Authorization, error) {
	var row authorizationRow
	err := s.db.WithContext(ctx).
		Where("wallet = ? AND service_key = ?", wallet, serviceKey).
		Order("seq DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, policy.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return row.domain(), nil
}

func (s *Store) RevokeAuthorization(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&authorizationRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"revoked": true, "revoked_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return policy.ErrUnauthorized
	}
	return nil
}

func (s *Store) ListAuthorizations(ctx context.Context, wallet string) ([]policy.Authorization, error) {
	var rows []authorizationRow
	if err := s.db.WithContext(ctx).Where("wallet = ?", wallet).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]policy.Authorization, len(rows))
	for i := range rows {
		out[i] = *rows[i].domain()
	}
	return out, nil
}

func (s *Store) Entry(ctx context.Context, key policy.Key) (policy.LedgerEntry, error) {
	var row ledgerRow
	err := s.db.WithContext(ctx).
		Where("wallet = ? AND service_key = ? AND day = ?", key.Wallet, key.ServiceKey, key.Day).
		First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return policy.LedgerEntry{Key: key}, nil
	case err != nil:
		return policy.LedgerEntry{}, err
	}
	return policy.LedgerEntry{Key: key, Committed: row.Committed, Reserved: row.Reserved}, nil
}

func whereKey(tx *gorm.DB, k policy.Key) *gorm.DB {
	return tx.Where("wallet = ? AND service_key = ? AND day = ?", k.Wallet, k.ServiceKey, k.Day)
}

func (s *Store) Reserve(ctx context.Context, r *policy.Reservation, dailyLimit uint64) error {
	if r.Amount > dailyLimit {
		return policy.ErrDailyLimitExceeded
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.IdempotencyKey != "" {
			var n int64
			if err := tx.Model(&reservationRow{}).
				Where("idempotency_key = ? AND state <> ?", r.IdempotencyKey, string(policy.ReservationReleased)).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return policy.ErrDuplicateIdempotencyKey
			}
		}

		k := r.Key()
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ledgerRow{Wallet: k.Wallet, ServiceKey: k.ServiceKey, Day: k.Day}).Error; err != nil {
			return err
		}
		res := whereKey(tx.Model(&ledgerRow{}), k).
			Where("committed + reserved <= ?", dailyLimit-r.Amount).
			Update("reserved", gorm.Expr("reserved + ?", r.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return policy.ErrDailyLimitExceeded
		}

		err := tx.Create(fromReservation(r)).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return policy.ErrDuplicateIdempotencyKey
		}
		return err
	})
}

func (s *Store) Reservation(ctx context.Context, id string) (*policy.Reservation, error) {
	var row reservationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, policy.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.domain(), nil
}

func (s *Store) Resolve(ctx context.Context, id string, to policy.ReservationState, at time.Time) (*policy.Reservation, error) {
	var out *policy.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row reservationRow
		err := tx.Where("id = ?", id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return policy.ErrReservationNotFound
		}
		if err != nil {
			return err
		}

		res := tx.Model(&reservationRow{}).
			Where("id = ? AND state = ?", id, string(policy.ReservationPending)).
			Updates(map[string]any{"state": string(to), "resolved_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return policy.ErrReservationAlreadyResolved
		}

		updates := map[string]any{"reserved": gorm.Expr("reserved - ?", row.Amount)}
		if to == policy.ReservationCommitted {
			updates["committed"] = gorm.Expr("committed + ?", row.Amount)
		}
		k := policy.Key{Wallet: row.Wallet, ServiceKey: row.ServiceKey, Day: row.Day}
		if err := whereKey(tx.Model(&ledgerRow{}), k).Updates(updates).Error; err != nil {
			return err
		}

		row.State = string(to)
		row.ResolvedAt = &at
		out = row.domain()
		return nil
	})
	return out, err
}

func (s *Store) Pending(ctx context.Context) ([]policy.Reservation, error) {
	var rows []reservationRow
	if err := s.db.WithContext(ctx).
		Where("state = ?", string(policy.ReservationPending)).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]policy.Reservation, len(rows))
	for i := range rows {
		out[i] = *rows[i].domain()
	}
	return out, nil
}
