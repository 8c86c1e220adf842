package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Privacy holds the user-controlled visibility settings.
type Privacy struct {
	IsPrivate         bool   `json:"isPrivate"`
	AllowMessagesFrom string `json:"allowMessagesFrom"`
	ShowActivity      bool   `json:"showActivity"`
}

// PrivacyUpdate is a partial privacy update; nil fields are unchanged.
type PrivacyUpdate struct {
	IsPrivate         *bool   `json:"isPrivate"`
	AllowMessagesFrom *string `json:"allowMessagesFrom"`
	ShowActivity      *bool   `json:"showActivity"`
}

// Consent types a user can grant or withdraw.
const (
	ConsentMarketingEmail  = "marketing_email"
	ConsentAnalytics       = "analytics"
	ConsentPersonalization = "personalization"
	ConsentDataSharing     = "data_sharing"
)

// ConsentTypes lists every known consent type.
var ConsentTypes = []string{ConsentMarketingEmail, ConsentAnalytics, ConsentPersonalization, ConsentDataSharing}

// Consent is one consent decision; a user has at most one row per type.
type Consent struct {
	Type      string    `json:"type"`
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsConsentType reports whether t is a known consent type.
func IsConsentType(t string) bool {
	for _, ct := range ConsentTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// GetPrivacy returns the privacy settings for an account.
func (s *Store) GetPrivacy(ctx context.Context, id int64) (*Privacy, error) {
	var p Privacy
	err := s.db.Pool.QueryRow(ctx,
		`SELECT is_private, allow_messages_from, show_activity FROM users WHERE id = $1`, id,
	).Scan(&p.IsPrivate, &p.AllowMessagesFrom, &p.ShowActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get privacy %d: %w", id, err)
	}
	return &p, nil
}

// UpdatePrivacy applies a partial privacy update. Turning a private
// account public accepts all of its pending follow requests.
func (s *Store) UpdatePrivacy(ctx context.Context, id int64, u PrivacyUpdate) (*Privacy, error) {
	if u.AllowMessagesFrom != nil {
		switch *u.AllowMessagesFrom {
		case MessagesFromEveryone, MessagesFromFollowers, MessagesFromNone:
		default:
			return nil, fmt.Errorf("%w: allowMessagesFrom must be everyone, followers or none", ErrInvalid)
		}
	}

	var p Privacy
	err := s.db.WithTx(ctx, "update privacy", func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE users SET
			     is_private          = COALESCE($2, is_private),
			     allow_messages_from = COALESCE($3, allow_messages_from),
			     show_activity       = COALESCE($4, show_activity),
			     updated_at          = NOW()
			 WHERE id = $1 AND status <> 'deleted'
			 RETURNING is_private, allow_messages_from, show_activity`,
			id, u.IsPrivate, u.AllowMessagesFrom, u.ShowActivity,
		).Scan(&p.IsPrivate, &p.AllowMessagesFrom, &p.ShowActivity)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("account: update privacy %d: %w", id, err)
		}

		if !p.IsPrivate {
			_, err = tx.Exec(ctx,
				`UPDATE follows SET status = 'accepted' WHERE followee_id = $1 AND status = 'pending'`, id)
			if err != nil {
				return fmt.Errorf("account: accept pending follows %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListConsents returns one entry per known consent type. Types the user
// never decided on are reported as not granted with a zero UpdatedAt.
func (s *Store) ListConsents(ctx context.Context, id int64) ([]Consent, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT consent_type, granted, updated_at FROM consents WHERE user_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("account: list consents %d: %w", id, err)
	}
	defer rows.Close()

	stored := map[string]Consent{}
	for rows.Next() {
		var c Consent
		if err := rows.Scan(&c.Type, &c.Granted, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("account: list consents scan: %w", err)
		}
		stored[c.Type] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: list consents %d: %w", id, err)
	}

	consents := make([]Consent, 0, len(ConsentTypes))
	for _, t := range ConsentTypes {
		c, ok := stored[t]
		if !ok {
			c = Consent{Type: t}
		}
		consents = append(consents, c)
	}
	return consents, nil
}

// SetConsent records a consent decision, replacing any earlier one.
func (s *Store) SetConsent(ctx context.Context, id int64, consentType string, granted bool) (*Consent, error) {
	if !IsConsentType(consentType) {
		return nil, fmt.Errorf("%w: unknown consent type %q", ErrInvalid, consentType)
	}

	c := Consent{Type: consentType}
	err := s.db.Pool.QueryRow(ctx,
		`INSERT INTO consents (user_id, consent_type, granted) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, consent_type)
		 DO UPDATE SET granted = EXCLUDED.granted, updated_at = NOW()
		 RETURNING granted, updated_at`,
		id, consentType, granted,
	).Scan(&c.Granted, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("account: set consent %d/%s: %w", id, consentType, err)
	}
	return &c, nil
}
