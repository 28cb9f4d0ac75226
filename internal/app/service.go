package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"barrage/internal/auth"
	"barrage/internal/authpw"
	"barrage/internal/avatar"
	"barrage/internal/config"
	"barrage/internal/email"
	"barrage/internal/store"
	"barrage/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	AvatarURL    string
	JTI          string
	ExpiresAt    time.Time
}

type SubmitBarrageInput struct {
	Content string `json:"content"`
	Color   string `json:"color"`
	BgColor string `json:"bgColor"`
	Mode    string `json:"mode"`
	Speed   int    `json:"speed"`
}

// BarrageView is the wire shape of one pulled item.
type BarrageView struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	Color     string `json:"color"`
	BgColor   string `json:"bgColor"`
	Mode      string `json:"mode"`
	Speed     int    `json:"speed"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type dataStore interface {
	InsertBarrage(context.Context, store.Barrage) (int64, error)
	ListBarragesSince(context.Context, int64) ([]store.Barrage, error)
	ListRecentBarrages(context.Context, int) ([]store.Barrage, error)
	ReportBarrage(context.Context, int64, string, int) (store.ReportOutcome, error)
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserAvatar(context.Context, string, string) (string, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	Ping(ctx context.Context) error
}

// sessionStore is the Redis-backed refresh token store; when absent the
// service falls back to the database refresh_sessions table.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

// moderationNotifier delivers the alert for a barrage that crossed the
// report threshold.
type moderationNotifier interface {
	SendModerationAlert(to string, barrageID int64, author, content string, reportCount int) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	mail     *email.Service
	alerts   moderationNotifier
	avatars  *avatar.Service
	secret   []byte
}

func New(cfg config.Config, dataStore dataStore, authService *authpw.Service, mailService *email.Service) *Service {
	service := &Service{
		cfg:    cfg,
		store:  dataStore,
		authpw: authService,
		mail:   mailService,
		secret: []byte(cfg.JWTSecret),
	}
	if mailService != nil && mailService.IsConfigured() {
		service.alerts = mailService
	}
	return service
}

func NewWithSessionStore(cfg config.Config, dataStore dataStore, sessions sessionStore, authService *authpw.Service, mailService *email.Service) *Service {
	service := New(cfg, dataStore, authService, mailService)
	service.sessions = sessions
	return service
}

// SetAvatarService wires the optional MinIO avatar backend.
func (s *Service) SetAvatarService(avatars *avatar.Service) {
	s.avatars = avatars
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) MailService() *email.Service {
	return s.mail
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) MaxLength() int {
	return s.cfg.MaxLength
}

func (s *Service) BaseURL() string {
	return s.cfg.BaseURL
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues an access/refresh token pair for a user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	jti := util.NewID("")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken(s.secret, auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refreshToken := util.NewID("")
	if err := s.saveRefresh(ctx, auth.HashToken(refreshToken), user); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.Username,
		AvatarURL:    user.AvatarURL,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) saveRefresh(ctx context.Context, tokenHash string, user store.User) error {
	expiresAt := time.Now().Add(s.cfg.RefreshTTL)
	if s.sessions != nil {
		return s.sessions.SaveRefreshSession(ctx, tokenHash, user, expiresAt)
	}
	return s.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (s *Service) lookupRefresh(ctx context.Context, tokenHash string) (store.User, error) {
	if s.sessions != nil {
		return s.sessions.LookupRefreshSession(ctx, tokenHash)
	}
	return s.store.LookupRefreshSession(ctx, tokenHash)
}

func (s *Service) revokeRefresh(ctx context.Context, tokenHash string) error {
	if s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Username:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates the refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	oldHash := auth.HashToken(refreshToken)
	user, err := s.lookupRefresh(ctx, oldHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	session, err := s.CreateSession(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	_ = s.revokeRefresh(ctx, oldHash)
	return session, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.revokeRefresh(ctx, auth.HashToken(refreshToken))
}

const (
	defaultColor   = "#FFFFFF"
	defaultBgColor = "#000000"
)

var hexColorPattern = regexp.MustCompile(`^#[a-fA-F0-9]{6}$`)

// normalizeColor truncates an 8-hex-digit value to its RGB part and
// replaces anything else malformed with the fallback.
func normalizeColor(raw, fallback string) string {
	value := strings.TrimSpace(raw)
	if len(value) == 9 && strings.HasPrefix(value, "#") {
		value = value[:7]
	}
	if !hexColorPattern.MatchString(value) {
		return fallback
	}
	return value
}

func normalizeMode(raw string) string {
	switch raw {
	case store.ModeRight, store.ModeLeft, store.ModeCenter:
		return raw
	default:
		return store.ModeRight
	}
}

// SubmitBarrage validates and appends a barrage. Length and emptiness
// reject; color, mode, and speed are silently corrected to defaults.
func (s *Service) SubmitBarrage(ctx context.Context, session Session, input SubmitBarrageInput) (int64, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Barrage content must not be empty", nil)
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxLength {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("Barrage content must not exceed %d characters", s.cfg.MaxLength), nil)
	}

	speed := input.Speed
	if speed <= 0 {
		speed = s.cfg.DefaultSpeed
	}

	barrage := store.Barrage{
		UserID:  session.UserID,
		Content: content,
		Color:   normalizeColor(input.Color, defaultColor),
		BgColor: normalizeColor(input.BgColor, defaultBgColor),
		Mode:    normalizeMode(input.Mode),
		Speed:   speed,
	}

	id, err := s.store.InsertBarrage(ctx, barrage)
	if err != nil {
		return 0, fmt.Errorf("submit barrage: %w", err)
	}
	return id, nil
}

// ListBarrages serves the pull protocol: sinceID > 0 returns newer
// items ascending; otherwise the most recent InitialLimit items,
// re-ordered ascending.
func (s *Service) ListBarrages(ctx context.Context, sinceID int64) ([]BarrageView, error) {
	var (
		items []store.Barrage
		err   error
	)
	if sinceID > 0 {
		items, err = s.store.ListBarragesSince(ctx, sinceID)
	} else {
		items, err = s.store.ListRecentBarrages(ctx, s.cfg.InitialLimit)
	}
	if err != nil {
		return nil, err
	}

	views := make([]BarrageView, 0, len(items))
	for _, item := range items {
		views = append(views, BarrageView{
			ID:        item.ID,
			Content:   item.Content,
			Color:     item.Color,
			BgColor:   item.BgColor,
			Mode:      item.Mode,
			Speed:     item.Speed,
			Username:  item.Username,
			AvatarURL: item.AvatarURL,
		})
	}
	return views, nil
}

// Report records a report against a barrage. Duplicate reports succeed
// with no side effect. When this call performed the threshold
// transition, exactly one moderation alert is dispatched after the
// transaction has committed; mail failures are logged, never surfaced.
func (s *Service) Report(ctx context.Context, session Session, barrageID int64) (string, error) {
	if barrageID <= 0 {
		return "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid barrage id", nil)
	}

	outcome, err := s.store.ReportBarrage(ctx, barrageID, session.UserID, s.cfg.ReportThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "The reported barrage does not exist", nil)
	}
	if err != nil {
		return "", domainError(http.StatusInternalServerError, "TRANSACTION_FAILED", "Something went wrong while reporting", nil)
	}

	if outcome.Duplicate {
		return "You have already reported this barrage", nil
	}

	if outcome.Transitioned {
		s.notifyModerators(barrageID, outcome)
	}
	return "Report received, thank you for the feedback", nil
}

func (s *Service) notifyModerators(barrageID int64, outcome store.ReportOutcome) {
	if s.alerts == nil || s.cfg.AdminEmail == "" {
		log.Printf("barrage %d moved to under_review (%d reports); moderation email not configured", barrageID, outcome.Count)
		return
	}
	go func() {
		if err := s.alerts.SendModerationAlert(s.cfg.AdminEmail, barrageID, outcome.Author, outcome.Content, outcome.Count); err != nil {
			log.Printf("moderation alert for barrage %d failed: %v", barrageID, err)
		}
	}()
}

// UploadAvatar stores a new avatar and updates the user row. The
// previous object is removed best-effort after the row update.
func (s *Service) UploadAvatar(ctx context.Context, session Session, contentType string, size int64, body io.Reader) (string, error) {
	if s.avatars == nil {
		return "", domainError(http.StatusServiceUnavailable, "AVATARS_UNAVAILABLE", "Avatar storage not configured", nil)
	}

	url, err := s.avatars.Upload(ctx, session.UserID, contentType, size, body)
	if errors.Is(err, avatar.ErrUnsupportedType) {
		return "", domainError(http.StatusUnsupportedMediaType, "VALIDATION_ERROR", "Unsupported image format; use JPG, PNG, or GIF", nil)
	}
	if errors.Is(err, avatar.ErrTooLarge) {
		return "", domainError(http.StatusRequestEntityTooLarge, "VALIDATION_ERROR",
			fmt.Sprintf("Image too large; limit is %d bytes", s.avatars.MaxBytes()), nil)
	}
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}

	previous, err := s.store.UpdateUserAvatar(ctx, session.UserID, url)
	if err != nil {
		return "", fmt.Errorf("update avatar: %w", err)
	}
	if previous != "" && previous != url {
		go func() {
			if err := s.avatars.Remove(context.Background(), previous); err != nil {
				log.Printf("remove old avatar %s: %v", previous, err)
			}
		}()
	}
	return url, nil
}
