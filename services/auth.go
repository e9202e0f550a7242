package services

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for unknown, expired or malformed tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

type magicToken struct {
	email   string
	expires time.Time
}

// Claims identifies the authenticated user behind a JWT.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type AuthService struct {
	mu           sync.Mutex
	tokens       map[string]magicToken
	jwtSecret    []byte
	tokenTTL     time.Duration
	magicLinkTTL time.Duration
	smtpConfig   SMTPConfig
	now          func() time.Time
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func NewAuthService(jwtSecret string, tokenTTL, magicLinkTTL time.Duration, smtpConfig SMTPConfig) *AuthService {
	return &AuthService{
		tokens:       make(map[string]magicToken),
		jwtSecret:    []byte(jwtSecret),
		tokenTTL:     tokenTTL,
		magicLinkTTL: magicLinkTTL,
		smtpConfig:   smtpConfig,
		now:          time.Now,
	}
}

// GenerateMagicLink creates a one-time token and email magic link
func (s *AuthService) GenerateMagicLink(email string, baseURL string) (string, error) {
	token, err := s.generateSecureToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.mu.Lock()
	s.pruneLocked()
	s.tokens[token] = magicToken{email: email, expires: s.now().Add(s.magicLinkTTL)}
	s.mu.Unlock()

	magicLink := fmt.Sprintf("%s/api/auth/magic-link?token=%s", baseURL, token)

	if s.smtpConfig.Host != "" {
		if err := s.sendMagicLinkEmail(email, magicLink); err != nil {
			slog.Warn("failed to send magic link email", "email", email, "error", err)
		}
	}

	return magicLink, nil
}

// VerifyMagicLinkToken consumes a one-time token and returns its email.
func (s *AuthService) VerifyMagicLinkToken(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tokens[token]
	if !exists {
		return "", ErrInvalidToken
	}
	delete(s.tokens, token)

	if s.now().After(entry.expires) {
		return "", ErrInvalidToken
	}
	return entry.email, nil
}

// pruneLocked drops expired magic tokens. Caller holds s.mu.
func (s *AuthService) pruneLocked() {
	now := s.now()
	for token, entry := range s.tokens {
		if now.After(entry.expires) {
			delete(s.tokens, token)
		}
	}
}

// CreateJWT issues a session token for a user.
func (s *AuthService) CreateJWT(userID, email string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyJWT validates a session token and returns its claims.
func (s *AuthService) VerifyJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim missing")
	}
	return claims, nil
}

func (s *AuthService) generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (s *AuthService) sendMagicLinkEmail(to, magicLink string) error {
	if s.smtpConfig.Host == "" || s.smtpConfig.Port == "" ||
		s.smtpConfig.Username == "" || s.smtpConfig.Password == "" {
		return errors.New("SMTP not fully configured")
	}

	auth := smtp.PlainAuth("", s.smtpConfig.Username, s.smtpConfig.Password, s.smtpConfig.Host)

	from := s.smtpConfig.From
	if from == "" {
		from = s.smtpConfig.Username
	}

	message, err := magicLinkMessage(from, to, magicLink, s.now())
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%s", s.smtpConfig.Host, s.smtpConfig.Port)
	if err := smtp.SendMail(addr, auth, from, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// magicLinkMessage builds the RFC 5322 login email.
func magicLinkMessage(from, to, magicLink string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject("Your Login Link for Kanban Board")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating email: %w", err)
	}
	body := fmt.Sprintf("Click the link below to log in to your board:\n\n%s\n\nIf you didn't request this link, you can safely ignore this email.\n", magicLink)
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("writing email: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("writing email: %w", err)
	}
	return buf.Bytes(), nil
}
