package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"BatchSend/internal/models"
)

const profileColumns = `id, system_id, host, port, username, password, encryption, verified, webhook_url`

func scanProfile(row pgx.Row) (models.SMTPProfile, error) {
	var (
		p   models.SMTPProfile
		enc string
	)
	err := row.Scan(&p.ID, &p.SystemID, &p.Host, &p.Port, &p.User, &p.Password, &enc, &p.Verified, &p.WebhookURL)
	p.Encryption = models.ParseEncryption(enc)
	return p, err
}

func (s *Store) GetProfile(ctx context.Context, tenant string, id int64) (models.SMTPProfile, error) {
	p, err := scanProfile(s.Pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM smtp_profiles WHERE system_id=$1 AND id=$2`,
		tenant, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// ListProfiles loads every tenant's profiles.
func (s *Store) ListProfiles(ctx context.Context) ([]models.SMTPProfile, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+profileColumns+` FROM smtp_profiles ORDER BY system_id, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SMTPProfile, error) {
		return scanProfile(row)
	})
}

// SaveProfile inserts p when its ID is zero, otherwise updates it, and
// returns the stored ID.
func (s *Store) SaveProfile(ctx context.Context, p models.SMTPProfile) (int64, error) {
	if p.ID == 0 {
		err := s.Pool.QueryRow(ctx,
			`INSERT INTO smtp_profiles
			 (system_id, host, port, username, password, encryption, verified, webhook_url)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			 RETURNING id`,
			p.SystemID, p.Host, p.Port, p.User, p.Password, string(p.Encryption), p.Verified, p.WebhookURL,
		).Scan(&p.ID)
		return p.ID, err
	}

	_, err := s.Pool.Exec(ctx,
		`UPDATE smtp_profiles
		 SET host=$1, port=$2, username=$3, password=$4, encryption=$5, verified=$6, webhook_url=$7
		 WHERE system_id=$8 AND id=$9`,
		p.Host, p.Port, p.User, p.Password, string(p.Encryption), p.Verified, p.WebhookURL,
		p.SystemID, p.ID,
	)
	return p.ID, err
}

// SetProfileVerified marks a profile as verified.
func (s *Store) SetProfileVerified(ctx context.Context, tenant string, id int64) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE smtp_profiles SET verified=TRUE WHERE system_id=$1 AND id=$2`,
		tenant, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
