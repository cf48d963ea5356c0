package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// ACCOUNTS - user records outside the money path
// =============================================================================

// NewUser describes an account to create.
type NewUser struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Nickname  string
	Birthdate time.Time
	GradClass int
	Role      Role
}

// ProfileUpdate is a partial edit of a user's profile; nil fields are kept.
// Balance, deposit and last drink are not editable here.
type ProfileUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Nickname  *string
	Birthdate *time.Time
	GradClass *int
	Role      *Role
	Password  *string
}

// Accounts creates, edits and deletes users.
type Accounts struct {
	store Store
	opts  Options
	log   zerolog.Logger
}

func NewAccounts(store Store, opts Options) *Accounts {
	opts = opts.withDefaults()
	if opts.PasswordCost == 0 {
		opts.PasswordCost = bcrypt.DefaultCost
	}
	return &Accounts{
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "accounts").Logger(),
	}
}

// CreateUser registers a customer account with a zero balance and no deposit.
func (a *Accounts) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}
	if in.Birthdate.IsZero() {
		return nil, fmt.Errorf("%w: birthdate is required", ErrValidation)
	}
	hash, err := a.hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:     username,
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Nickname:     in.Nickname,
		Birthdate:    Date(in.Birthdate.Date()),
		Role:         in.Role,
		GradClass:    in.GradClass,
		CreatedAt:    a.opts.Now().UTC(),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	a.log.Info().Int64("user_id", int64(user.ID)).Str("username", user.Username).Msg("user created")
	return user, nil
}

// CheckPassword reports whether password matches the stored hash.
func (a *Accounts) CheckPassword(user *User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// EditProfile changes profile fields of username. Only admins may do so.
func (a *Accounts) EditProfile(ctx context.Context, actor Role, username string, upd ProfileUpdate) (*User, error) {
	if err := actor.Require(CapAdminister); err != nil {
		return nil, err
	}
	if upd.Email != nil {
		if err := validateEmail(*upd.Email); err != nil {
			return nil, err
		}
	}
	if upd.Role != nil && (*upd.Role < RoleCustomer || *upd.Role > RoleAdmin) {
		return nil, fmt.Errorf("%w: unknown role", ErrValidation)
	}
	var hash string
	if upd.Password != nil {
		if *upd.Password == "" {
			return nil, fmt.Errorf("%w: password is required", ErrValidation)
		}
		var err error
		if hash, err = a.hash(*upd.Password); err != nil {
			return nil, err
		}
	}

	var user *User
	err := a.store.WithTx(ctx, func(repos Repositories) error {
		current, err := repos.GetUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		if user, err = repos.GetUserForUpdate(ctx, current.ID); err != nil {
			return err
		}
		if upd.Email != nil {
			user.Email = strings.TrimSpace(*upd.Email)
		}
		if upd.FirstName != nil {
			user.FirstName = *upd.FirstName
		}
		if upd.LastName != nil {
			user.LastName = *upd.LastName
		}
		if upd.Nickname != nil {
			user.Nickname = *upd.Nickname
		}
		if upd.Birthdate != nil {
			user.Birthdate = Date(upd.Birthdate.Date())
		}
		if upd.GradClass != nil {
			user.GradClass = *upd.GradClass
		}
		if upd.Role != nil {
			user.Role = *upd.Role
		}
		if hash != "" {
			user.PasswordHash = hash
		}
		return repos.UpdateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	a.log.Info().Int64("user_id", int64(user.ID)).Str("role", user.Role.String()).Msg("profile edited")
	return user, nil
}

// DeleteUser removes the account. Its transactions keep the client id.
func (a *Accounts) DeleteUser(ctx context.Context, actor Role, username string) error {
	if err := actor.Require(CapAdminister); err != nil {
		return err
	}
	err := a.store.WithTx(ctx, func(repos Repositories) error {
		user, err := repos.GetUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		return repos.DeleteUser(ctx, user.ID)
	})
	if err != nil {
		return err
	}
	a.log.Info().Str("username", username).Msg("user deleted")
	return nil
}

func (a *Accounts) GetUser(ctx context.Context, username string) (*User, error) {
	return a.store.GetUserByUsername(ctx, username)
}

func (a *Accounts) GetUserByID(ctx context.Context, id UserID) (*User, error) {
	return a.store.GetUser(ctx, id)
}

func (a *Accounts) ListUsers(ctx context.Context) ([]User, error) {
	return a.store.ListUsers(ctx)
}

func (a *Accounts) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), a.opts.PasswordCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	return nil
}
