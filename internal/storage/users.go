package storage

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/ride-session/internal/events"
	"github.com/example/ride-session/internal/ids"
	"github.com/example/ride-session/internal/models"
)

type registration struct {
	Name   string `validate:"required"`
	Email  string `validate:"required,email"`
	Secret string `validate:"required"`
}

type ratingInput struct {
	UserID string `validate:"required"`
	Rating int    `validate:"min=1,max=5"`
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// profile strips the credential hash before a user leaves the accessor.
func profile(u models.User) models.User {
	u.Password = ""
	return u
}

// RegisterUser adds a user with a fresh 5.0 rating. The email must not
// already be registered.
func (a *Accessor) RegisterUser(ctx context.Context, name, email, secret string) (models.User, error) {
	in := registration{Name: strings.TrimSpace(name), Email: normalizeEmail(email), Secret: secret}
	if err := a.check(in); err != nil {
		return models.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.HashCost)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	id := a.gen().New(ids.UserPrefix)
	user := models.User{
		ID:         id,
		Name:       in.Name,
		Email:      in.Email,
		Password:   string(hash),
		AvatarURL:  "https://i.pravatar.cc/150?u=" + id,
		Rating:     5.0,
		NumRatings: 0,
	}
	err = a.mutate(ctx, "register_user", func(doc *models.Document) error {
		for _, u := range doc.Users {
			if normalizeEmail(u.Email) == in.Email {
				return fmt.Errorf("%w: email already in use", ErrConflict)
			}
		}
		doc.Users = append(doc.Users, user)
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	a.publish(ctx, events.Event{Type: events.UserRegistered, UserID: user.ID})
	return profile(user), nil
}

func (a *Accessor) LoginUser(ctx context.Context, email, secret string) (models.User, error) {
	email = normalizeEmail(email)
	var (
		found models.User
		ok    bool
	)
	err := a.view(ctx, "login_user", func(doc models.Document) {
		for _, u := range doc.Users {
			if normalizeEmail(u.Email) == email {
				found, ok = u, true
				return
			}
		}
	})
	if err != nil {
		return models.User{}, err
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(found.Password), []byte(secret)) != nil {
		return models.User{}, ErrAuth
	}
	return profile(found), nil
}

// GetUserByID reports absence through ok rather than an error.
func (a *Accessor) GetUserByID(ctx context.Context, id string) (user models.User, ok bool, err error) {
	err = a.view(ctx, "get_user", func(doc models.Document) {
		for _, u := range doc.Users {
			if u.ID == id {
				user, ok = profile(u), true
				return
			}
		}
	})
	return user, ok, err
}

// UpdateUserRating folds one 1..5 rating into the user's running mean.
func (a *Accessor) UpdateUserRating(ctx context.Context, userID string, rating int) (models.User, error) {
	if err := a.check(ratingInput{UserID: userID, Rating: rating}); err != nil {
		return models.User{}, err
	}
	var updated models.User
	err := a.mutate(ctx, "update_rating", func(doc *models.Document) error {
		for i := range doc.Users {
			u := &doc.Users[i]
			if u.ID != userID {
				continue
			}
			total := u.Rating * float64(u.NumRatings)
			u.NumRatings++
			u.Rating = (total + float64(rating)) / float64(u.NumRatings)
			updated = *u
			return nil
		}
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	})
	if err != nil {
		return models.User{}, err
	}
	a.publish(ctx, events.Event{Type: events.UserRated, UserID: userID, Amount: float64(rating)})
	return profile(updated), nil
}
