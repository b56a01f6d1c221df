package user

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"go-social/internal/apperr"
	"go-social/internal/cache"
	"go-social/internal/notification"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Notifier records a notification subject to deduplication.
type Notifier interface {
	Notify(ctx context.Context, c notification.Candidate) (notification.Outcome, *notification.Notification, error)
}

// Presence answers online-status queries from the realtime layer.
type Presence interface {
	IsOnline(userID int) bool
	OnlineUsers() []int
}

type Config struct {
	JWTSecret  string
	TokenTTL   time.Duration
	ProfileTTL time.Duration
	BcryptCost int
	Clock      func() time.Time
}

type Service struct {
	repo        *Repository
	cache       *cache.RedisCache
	invalidator *cache.Invalidator
	notifier    Notifier
	presence    Presence
	cfg         Config
}

type MyJWTClaims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, c *cache.RedisCache, inv *cache.Invalidator, n Notifier, p Presence, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		repo:        repo,
		cache:       c,
		invalidator: inv,
		notifier:    n,
		presence:    p,
		cfg:         cfg,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	username := strings.TrimSpace(req.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if len(req.Password) < 6 {
		return nil, apperr.Validation("password must be at least 6 characters")
	}

	if _, err := s.repo.GetUserByUsername(ctx, username); err == nil {
		return nil, apperr.Conflict("username already taken")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:    username,
		Password:    string(hashedPwd),
		DisplayName: username,
		CreatedAt:   s.cfg.Clock().UTC(),
	}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return &RegisterResponse{ID: u.ID, Username: u.Username}, nil
}

func validateUsername(name string) error {
	if n := utf8.RuneCountInString(name); n < 3 || n > 50 {
		return apperr.Validation("username must be 3 to 50 characters")
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return apperr.Validation("username may only contain letters, digits and underscores")
		}
	}
	return nil
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.cfg.Clock()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-social",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	})

	ss, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
	}, nil
}

func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.cfg.Clock))
	if err != nil {
		return 0, "", err
	}
	if !token.Valid || claims.ID <= 0 {
		return 0, "", errors.New("invalid token")
	}

	return claims.ID, claims.Username, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]Summary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Summary{}, nil
	}
	return s.repo.SearchUsers(ctx, query)
}

// Exists reports whether a user id is registered.
func (s *Service) Exists(ctx context.Context, id int) (bool, error) {
	return s.repo.Exists(ctx, id)
}

// FindByUsernames resolves usernames to users. Unknown names are skipped.
func (s *Service) FindByUsernames(ctx context.Context, usernames []string) ([]Summary, error) {
	return s.repo.FindByUsernames(ctx, usernames)
}

// FollowingIDs lists the users userID follows.
func (s *Service) FollowingIDs(ctx context.Context, userID int) ([]int, error) {
	return s.repo.FollowingIDs(ctx, userID)
}

// GetProfile reads the profile and follow counts through the cache. Online
// status always comes from the live presence state.
func (s *Service) GetProfile(ctx context.Context, id int) (*Profile, error) {
	u, err := cache.Remember(ctx, s.cache, cache.UserProfile, cache.UserProfile.Key(id), s.cfg.ProfileTTL, func(ctx context.Context) (User, error) {
		u, err := s.repo.GetUserByID(ctx, id)
		if err != nil {
			return User{}, err
		}
		return *u, nil
	})
	if err != nil {
		return nil, err
	}

	stats, err := cache.Remember(ctx, s.cache, cache.UserStats, cache.UserStats.Key(id), s.cfg.ProfileTTL, func(ctx context.Context) (Stats, error) {
		return s.repo.Stats(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	p := &Profile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt,
		Stats:       stats,
	}
	if s.presence != nil {
		p.IsOnline = s.presence.IsOnline(id)
	}
	return p, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id int, req *UpdateProfileRequest) (*Profile, error) {
	fields := map[string]any{}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if utf8.RuneCountInString(name) > 100 {
			return nil, apperr.Validation("display_name must be at most 100 characters")
		}
		fields["display_name"] = name
	}
	if req.Bio != nil {
		if utf8.RuneCountInString(*req.Bio) > 500 {
			return nil, apperr.Validation("bio must be at most 500 characters")
		}
		fields["bio"] = *req.Bio
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = strings.TrimSpace(*req.AvatarURL)
	}
	if len(fields) == 0 {
		return nil, apperr.Validation("nothing to update")
	}

	if err := s.repo.UpdateProfile(ctx, id, fields); err != nil {
		return nil, err
	}
	s.invalidator.Invalidate(ctx, cache.ProfileUpdated, cache.Subject{UserID: id})
	return s.GetProfile(ctx, id)
}

func (s *Service) OnlineUsers() []int {
	if s.presence == nil {
		return []int{}
	}
	return s.presence.OnlineUsers()
}

// Follow makes followerID follow followingID and notifies the followee.
func (s *Service) Follow(ctx context.Context, followerID, followingID int) error {
	if followerID == followingID {
		return apperr.Validation("cannot follow yourself")
	}
	ok, err := s.repo.Exists(ctx, followingID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("user not found")
	}
	exists, err := s.repo.FollowExists(ctx, followerID, followingID)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Conflict("already following")
	}

	err = s.repo.CreateFollow(ctx, &Follow{
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   s.cfg.Clock().UTC(),
	})
	if err != nil {
		return err
	}

	if s.notifier != nil {
		_, _, err := s.notifier.Notify(ctx, notification.Candidate{
			RecipientID: followingID,
			ActorID:     followerID,
			Type:        notification.TypeFollow,
		})
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int("following_id", followingID).Msg("follow notification failed")
		}
	}

	s.invalidator.Invalidate(ctx, cache.FollowChanged, cache.Subject{UserID: followerID, OtherUserID: followingID})
	return nil
}

func (s *Service) Unfollow(ctx context.Context, followerID, followingID int) error {
	n, err := s.repo.DeleteFollow(ctx, followerID, followingID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("not following")
	}
	s.invalidator.Invalidate(ctx, cache.FollowChanged, cache.Subject{UserID: followerID, OtherUserID: followingID})
	return nil
}

func (s *Service) Followers(ctx context.Context, userID, page, limit int) ([]Summary, error) {
	return s.repo.ListFollowers(ctx, userID, limit, (page-1)*limit)
}

func (s *Service) Following(ctx context.Context, userID, page, limit int) ([]Summary, error) {
	return s.repo.ListFollowing(ctx, userID, limit, (page-1)*limit)
}
