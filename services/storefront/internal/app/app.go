package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"paperwise/internal/util"
	"paperwise/pkg/auth"
	"paperwise/pkg/domain"
	"paperwise/pkg/mail"
	"paperwise/pkg/payment"
	"paperwise/pkg/storage"
	"paperwise/pkg/store"
	"paperwise/services/storefront/internal/cart"
	"paperwise/services/storefront/internal/catalog"
	"paperwise/services/storefront/internal/checkout"
	"paperwise/services/storefront/internal/fulfillment"
	"paperwise/services/storefront/internal/onboarding"
)

// Config holds runtime configuration for the storefront. Store, Sessions,
// Redis, Objects, Payments, Mailer, Subscriber and Now override the clients
// New would otherwise build from the connection settings.
type Config struct {
	DatabaseURL     string
	DatabaseMaxOpen int
	DatabaseIPv4    bool
	RedisAddr       string
	RedisPassword   string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	SessionTTL  time.Duration

	BootstrapAdminEmail string
	PublicURL           string
	Currency            string

	StripeSecretKey     string
	StripeWebhookSecret string

	MailerSendAPIKey  string
	MailerLiteAPIKey  string
	MailerLiteGroupID string
	MailFrom          mail.Address

	Minio          storage.MinioConfig
	DownloadExpiry time.Duration
	MaxUploadBytes int64

	Store      store.Store
	Sessions   store.SessionStore
	Redis      *redis.Client
	Objects    storage.ObjectStore
	Payments   payment.Provider
	Mailer     mail.Sender
	Subscriber mail.Subscriber
	Now        func() time.Time
}

// App is the storefront's dependency container. It is built once per process
// and handed to the transport layer.
type App struct {
	store      store.Store
	sessions   store.SessionStore
	redis      *redis.Client
	subscriber mail.Subscriber
	now        func() time.Time

	bootstrapAdmin string
	sessionTTL     time.Duration

	cart       *cart.Service
	checkout   *checkout.Builder
	fulfill    *fulfillment.Handler
	downloads  *fulfillment.Downloads
	onboarding *onboarding.Sequencer
	catalog    *catalog.Service

	closers []func() error
}

// New constructs the application, connecting to whatever Config does not override.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	a := &App{
		now:            cfg.Now,
		bootstrapAdmin: strings.TrimSpace(strings.ToLower(cfg.BootstrapAdminEmail)),
		sessionTTL:     cfg.SessionTTL,
	}

	a.store = cfg.Store
	if a.store == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		opts := []store.GormStoreOption{}
		if cfg.DatabaseMaxOpen > 0 {
			opts = append(opts, store.WithPool(cfg.DatabaseMaxOpen, cfg.DatabaseMaxOpen, 30*time.Minute))
		}
		if cfg.DatabaseIPv4 {
			opts = append(opts, store.WithIPv4())
		}
		gs, err := store.NewGormStore(cfg.DatabaseURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.store = gs
		a.closers = append(a.closers, gs.Close)
	}

	a.redis = cfg.Redis
	if a.redis == nil {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("redisAddr is required for guest carts and session revocation")
		}
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, a.redis.Close)
	}

	a.sessions = cfg.Sessions
	if a.sessions == nil {
		sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL, store.NewRedisTokenRevoker(a.redis), store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		a.sessions = sessions
	}

	objects := cfg.Objects
	if objects == nil {
		if strings.TrimSpace(cfg.Minio.Endpoint) == "" {
			return nil, fmt.Errorf("minioEndpoint is required for document storage")
		}
		ms, err := storage.NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		objects = ms
	}

	payments := cfg.Payments
	if payments == nil {
		sp, err := payment.NewStripe(payment.StripeConfig{SecretKey: cfg.StripeSecretKey, WebhookSecret: cfg.StripeWebhookSecret})
		if err != nil {
			return nil, fmt.Errorf("init stripe: %w", err)
		}
		payments = sp
	}

	mailer := cfg.Mailer
	if mailer == nil {
		if strings.TrimSpace(cfg.MailerSendAPIKey) == "" {
			slog.Warn("mailerSendAPIKey not set, emails will only be logged")
			mailer = mail.LogSender{}
		} else {
			ms, err := mail.NewMailerSend(cfg.MailerSendAPIKey, cfg.MailFrom)
			if err != nil {
				return nil, fmt.Errorf("init mailersend: %w", err)
			}
			mailer = ms
		}
	}

	a.subscriber = cfg.Subscriber
	if a.subscriber == nil {
		if strings.TrimSpace(cfg.MailerLiteAPIKey) == "" {
			a.subscriber = mail.NoopSubscriber{}
		} else {
			ml, err := mail.NewMailerLite(cfg.MailerLiteAPIKey, cfg.MailerLiteGroupID)
			if err != nil {
				return nil, fmt.Errorf("init mailerlite: %w", err)
			}
			a.subscriber = ml
		}
	}

	a.cart = cart.NewService(cart.Config{Store: a.store, Redis: a.redis, Now: cfg.Now})
	a.checkout = checkout.NewBuilder(checkout.Config{
		Catalog:   a.store,
		Payments:  payments,
		Currency:  cfg.Currency,
		PublicURL: cfg.PublicURL,
	})
	a.fulfill = fulfillment.NewHandler(fulfillment.Config{
		Store:     a.store,
		Payments:  payments,
		Mailer:    mailer,
		PublicURL: cfg.PublicURL,
		Now:       cfg.Now,
	})
	a.downloads = fulfillment.NewDownloads(fulfillment.DownloadConfig{
		Store:   a.store,
		Objects: objects,
		Expiry:  cfg.DownloadExpiry,
		Now:     cfg.Now,
	})
	a.onboarding = onboarding.NewSequencer(onboarding.Config{
		Store:     a.store,
		Mailer:    mailer,
		PublicURL: cfg.PublicURL,
		Now:       cfg.Now,
	})
	a.catalog = catalog.NewService(catalog.Config{
		Store:          a.store,
		Objects:        objects,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Now:            cfg.Now,
	})
	return a, nil
}

// Close releases the connections New opened.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) Redis() *redis.Client              { return a.redis }
func (a *App) Cart() *cart.Service               { return a.cart }
func (a *App) Checkout() *checkout.Builder       { return a.checkout }
func (a *App) Fulfillment() *fulfillment.Handler { return a.fulfill }
func (a *App) Downloads() *fulfillment.Downloads { return a.downloads }
func (a *App) Onboarding() *onboarding.Sequencer { return a.onboarding }
func (a *App) Catalog() *catalog.Service         { return a.catalog }
func (a *App) SessionTTL() time.Duration         { return a.sessionTTL }

// SignUp registers a user and issues a session token. Onboarding enrollment
// and the marketing list subscription are best-effort.
func (a *App) SignUp(ctx context.Context, name, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", domain.Validation("%s", err.Error())
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	role, err := a.roleFor(ctx, email)
	if err != nil {
		return domain.User{}, "", err
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := a.now().UTC()
	user := domain.User{
		ID:           util.NewRecordID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}

	logger := util.LoggerFromContext(ctx)
	if _, _, err := a.onboarding.Start(ctx, user.ID, user.Email, user.Name); err != nil {
		logger.Warn("onboarding enrollment failed", "user_id", user.ID, "err", err)
	}
	if err := a.subscriber.Subscribe(ctx, user.Email, user.Name); err != nil {
		logger.Warn("mailing list subscribe failed", "user_id", user.ID, "err", err)
	}

	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// roleFor grants admin to the bootstrap email, or to the first account when
// no bootstrap email is configured.
func (a *App) roleFor(ctx context.Context, email string) (domain.UserRole, error) {
	if a.bootstrapAdmin != "" {
		if email == a.bootstrapAdmin {
			return domain.RoleAdmin, nil
		}
		return domain.RoleUser, nil
	}
	count, err := a.store.UserCount(ctx)
	if err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		return domain.RoleAdmin, nil
	}
	return domain.RoleUser, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(ctx, uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// Logout revokes the session token.
func (a *App) Logout(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrUnauthenticated
	}
	return a.sessions.DeleteSession(token)
}
