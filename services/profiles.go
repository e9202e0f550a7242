package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/events"
)

const (
	MinNicknameLength = 3
	MaxNicknameLength = 50

	nicknameAttempts = 5
	suffixAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// ProfileService manages user profiles and their unique nicknames.
type ProfileService struct {
	store     *database.Store
	publisher Publisher
}

func NewProfileService(store *database.Store, publisher Publisher) *ProfileService {
	return &ProfileService{store: store, publisher: publisher}
}

// ValidateNickname checks the trimmed nickname and returns it.
func ValidateNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", invalid("nickname", "must not be empty")
	}
	n := utf8.RuneCountInString(nickname)
	if n < MinNicknameLength {
		return "", invalid("nickname", "must be at least %d characters", MinNicknameLength)
	}
	if n > MaxNicknameLength {
		return "", invalid("nickname", "must be at most %d characters", MaxNicknameLength)
	}
	for _, r := range nickname {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '_' && r != '-' {
			return "", invalid("nickname", "may contain only letters, digits, spaces, _ and -")
		}
	}
	return nickname, nil
}

// GenerateNicknameFromEmail derives a nickname from the local part of an
// email address, padding short results with a random suffix.
func GenerateNicknameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found {
		return "user" + randomSuffix(6)
	}

	var b strings.Builder
	for _, r := range local {
		if r < utf8.RuneSelf && (r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	nickname := b.String()
	if len(nickname) > MaxNicknameLength {
		nickname = nickname[:MaxNicknameLength]
	}
	if len(nickname) < MinNicknameLength {
		nickname += randomSuffix(MinNicknameLength)
	}
	return nickname
}

func randomSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	for i := range b {
		b[i] = suffixAlphabet[int(b[i])%len(suffixAlphabet)]
	}
	return string(b)
}

func withSuffix(nickname string) string {
	suffix := "_" + randomSuffix(4)
	if len(nickname)+len(suffix) > MaxNicknameLength {
		nickname = string([]rune(nickname)[:MaxNicknameLength-len(suffix)])
	}
	return nickname + suffix
}

// EnsureProfile returns the user's profile, creating one with a generated
// nickname on first login.
func (s *ProfileService) EnsureProfile(ctx context.Context, user *database.User) (*database.UserProfile, error) {
	profile, err := s.store.GetProfile(ctx, user.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	nickname := GenerateNicknameFromEmail(user.Email)
	for attempt := 0; attempt < nicknameAttempts; attempt++ {
		profile = &database.UserProfile{UserID: user.ID, Nickname: nickname, Email: user.Email}
		err = s.store.CreateProfile(ctx, profile)
		if err == nil {
			s.publish(ctx, events.EventInsert, user.ID, profile, nil)
			return profile, nil
		}
		if !errors.Is(err, database.ErrConflict) {
			return nil, err
		}
		// Either the nickname is taken or a concurrent login created the profile.
		if existing, getErr := s.store.GetProfile(ctx, user.ID); getErr == nil {
			return existing, nil
		}
		nickname = withSuffix(GenerateNicknameFromEmail(user.Email))
	}
	return nil, fmt.Errorf("failed to allocate a nickname for %s: %w", user.Email, err)
}

func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*database.UserProfile, error) {
	return s.store.GetProfile(ctx, userID)
}

func (s *ProfileService) ListProfiles(ctx context.Context) ([]database.UserProfile, error) {
	return s.store.ListProfiles(ctx)
}

// NicknameAvailable reports whether nickname is valid and unused by anyone
// other than excludeUserID.
func (s *ProfileService) NicknameAvailable(ctx context.Context, nickname, excludeUserID string) (bool, error) {
	nickname, err := ValidateNickname(nickname)
	if err != nil {
		return false, err
	}
	taken, err := s.store.NicknameTaken(ctx, nickname, excludeUserID)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// UpdateNickname changes the caller's nickname after checking availability.
func (s *ProfileService) UpdateNickname(ctx context.Context, userID, nickname string) (*database.UserProfile, error) {
	nickname, err := ValidateNickname(nickname)
	if err != nil {
		return nil, err
	}
	old, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if old.Nickname == nickname {
		return old, nil
	}
	taken, err := s.store.NicknameTaken(ctx, nickname, userID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("nickname %q: %w", nickname, database.ErrConflict)
	}
	profile, err := s.store.UpdateNickname(ctx, userID, nickname)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventUpdate, userID, profile, old)
	return profile, nil
}

func (s *ProfileService) publish(ctx context.Context, typ events.EventType, actor string, newRecord, oldRecord any) {
	if s.publisher == nil {
		return
	}
	ev, err := events.NewChangeEvent(events.TableProfiles, typ, actor, newRecord, oldRecord)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		warnPublishFailed(events.TableProfiles, typ, err)
	}
}
