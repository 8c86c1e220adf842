// Package privacy implements account deletion and personal-data export.
//
// Deleting an account removes the user's stored media and anonymizes
// their database row concurrently; the request succeeds only if both
// do. There is no retry: a failed deletion is reported to the caller,
// who may simply try again since both steps are safe to repeat.
package privacy

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/comment"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/follow"
	"github.com/primal-host/vibespace/internal/media"
	"github.com/primal-host/vibespace/internal/message"
	"github.com/primal-host/vibespace/internal/notify"
	"github.com/primal-host/vibespace/internal/post"
	"github.com/primal-host/vibespace/internal/vibe"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// accounts is the subset of account.Store the service needs.
type accounts interface {
	VerifyPassword(ctx context.Context, id int64, password string) error
	GetByID(ctx context.Context, id int64) (*account.User, error)
	GetPrivacy(ctx context.Context, id int64) (*account.Privacy, error)
	ListConsents(ctx context.Context, id int64) ([]account.Consent, error)
}

type transactor interface {
	WithTx(ctx context.Context, reason string, fn func(tx pgx.Tx) error) error
}

type disconnector interface {
	Disconnect(userID int64)
}

// Service runs the deletion and export workflows.
type Service struct {
	accounts  accounts
	tx        transactor
	media     media.Store
	hub       disconnector
	anonymize func(ctx context.Context, q database.Querier, id int64) error

	posts    *post.Store
	comments *comment.Store
	vibes    *vibe.Store
	follows  *follow.Store
	messages *message.Store

	log *zap.Logger
}

// Stores groups the content stores read by Export.
type Stores struct {
	Accounts *account.Store
	Posts    *post.Store
	Comments *comment.Store
	Vibes    *vibe.Store
	Follows  *follow.Store
	Messages *message.Store
}

// NewService creates a privacy Service.
func NewService(db *database.DB, stores Stores, mediaStore media.Store, hub *notify.Hub, log *zap.Logger) *Service {
	return &Service{
		accounts:  stores.Accounts,
		tx:        db,
		media:     mediaStore,
		hub:       hub,
		anonymize: account.Anonymize,
		posts:     stores.Posts,
		comments:  stores.Comments,
		vibes:     stores.Vibes,
		follows:   stores.Follows,
		messages:  stores.Messages,
		log:       log,
	}
}

// Deletion summarizes a completed account deletion.
type Deletion struct {
	UserID       int64 `json:"userId"`
	FilesDeleted int   `json:"filesDeleted"`
}

// DeleteAccount verifies the password, then deletes the user's media
// and anonymizes the account concurrently, and finally closes the
// user's live connections. If either step fails the other is cancelled
// through the shared context and the error is returned.
func (s *Service) DeleteAccount(ctx context.Context, userID int64, password string) (*Deletion, error) {
	if err := s.accounts.VerifyPassword(ctx, userID, password); err != nil {
		return nil, err
	}

	var filesDeleted int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.media.DeletePrefix(gctx, media.UserPrefix(userID))
		if err != nil {
			return fmt.Errorf("privacy: delete media of user %d: %w", userID, err)
		}
		filesDeleted = n
		return nil
	})
	g.Go(func() error {
		return s.tx.WithTx(gctx, "anonymize account", func(tx pgx.Tx) error {
			return s.anonymize(gctx, tx, userID)
		})
	})
	if err := g.Wait(); err != nil {
		s.log.Error("account deletion failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}

	s.hub.Disconnect(userID)
	s.log.Info("account deleted", zap.Int64("user_id", userID), zap.Int("files_deleted", filesDeleted))
	return &Deletion{UserID: userID, FilesDeleted: filesDeleted}, nil
}

// Export is a user's personal data.
type Export struct {
	ExportedAt    time.Time              `json:"exportedAt"`
	Profile       *account.User          `json:"profile"`
	Privacy       *account.Privacy       `json:"privacy"`
	Consents      []account.Consent      `json:"consents"`
	Posts         []post.Post            `json:"posts"`
	Comments      []comment.Comment      `json:"comments"`
	Vibes         []vibe.Vibe            `json:"vibes"`
	Following     []follow.Edge          `json:"following"`
	Followers     []follow.Edge          `json:"followers"`
	Conversations []message.Conversation `json:"conversations"`
	Messages      []message.Message      `json:"messages"`
}

// Export gathers everything stored about a user. The sections are read
// concurrently.
func (s *Service) Export(ctx context.Context, userID int64) (*Export, error) {
	out := &Export{ExportedAt: time.Now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Profile, err = s.accounts.GetByID(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Privacy, err = s.accounts.GetPrivacy(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Consents, err = s.accounts.ListConsents(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Posts, err = s.posts.AllByUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Comments, err = s.comments.AllByUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Vibes, err = s.vibes.ListByUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Following, out.Followers, err = s.follows.AllByUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Conversations, err = s.messages.ListConversations(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Messages, err = s.messages.SentByUser(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("privacy: export user %d: %w", userID, err)
	}
	return out, nil
}
