package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"keepsake/api/internal/auth"
	"keepsake/api/internal/blob"
	"keepsake/api/internal/config"
	"keepsake/api/internal/session"
	"keepsake/api/internal/store"
)

// Session is the identity bound to a request by the auth gate.
type Session struct {
	ID     string
	UserID string
	Name   string
	Email  string
}

// Upload carries one multipart file through the service to the blob store.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

type createPersonInput struct {
	Name string `validate:"required"`
}

type addMemoryInput struct {
	Title string `validate:"required"`
}

type addCommentInput struct {
	Text string `validate:"required"`
}

var validate = validator.New()

type dataStore interface {
	EnsureUserByGoogleID(ctx context.Context, subject, name, email, photo string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	InsertPerson(ctx context.Context, owner string, person store.Person) (store.Person, error)
	AddPersonRef(ctx context.Context, owner, personID string) error
	RemovePersonRef(ctx context.Context, owner, personID string) error
	ListPeople(ctx context.Context, owner string) ([]store.Person, error)
	GetPerson(ctx context.Context, id, owner string) (store.Person, error)
	SetPersonPhoto(ctx context.Context, id, owner, url string) (store.Person, error)
	DeletePerson(ctx context.Context, id, owner string) (store.Person, error)
	DeleteAllPeople(ctx context.Context, owner string) (int64, error)
	AppendMemory(ctx context.Context, personID, owner string, memory store.Memory) (store.Person, error)
	SetMemory(ctx context.Context, personID, owner, memoryID, title string, photo *string) (store.Person, error)
	RemoveMemory(ctx context.Context, personID, owner, memoryID string) (store.Person, error)
	AppendComment(ctx context.Context, personID, owner, memoryID string, comment store.Comment) (store.Memory, error)
	Ping(ctx context.Context) error
}

type blobStore interface {
	Store(ctx context.Context, filename, contentType string, size int64, content io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

type sessionStore interface {
	Save(ctx context.Context, sessionHash string, data session.Data, ttl time.Duration) error
	Lookup(ctx context.Context, sessionHash string) (session.Data, error)
	Revoke(ctx context.Context, sessionHash string) error
	Ping(ctx context.Context) error
}

type identityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.Profile, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	blobs    blobStore
	sessions sessionStore
	identity identityProvider
}

func New(cfg config.Config, dataStore *store.MongoStore, sessions *session.RedisStore, blobs *blob.Store, identity *auth.Google) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		blobs:    blobs,
		identity: identity,
	}
}

// ── Auth & sessions ──

func (s *Service) BeginGoogleAuth() string {
	return s.identity.AuthCodeURL("")
}

// ExchangeCode runs the full login: code → verified identity → idempotent
// lookup-or-create of the User → fresh server-side session.
func (s *Service) ExchangeCode(ctx context.Context, code string) (Session, store.User, error) {
	if strings.TrimSpace(code) == "" {
		return Session{}, store.User{}, domainError(400, "Authorization code is required", nil)
	}

	profile, err := s.identity.Exchange(ctx, code)
	if err != nil {
		return Session{}, store.User{}, err
	}

	user, err := s.store.EnsureUserByGoogleID(ctx, profile.Subject, profile.Name, profile.Email, profile.Picture)
	if err != nil {
		return Session{}, store.User{}, err
	}

	sid := auth.NewSessionID()
	data := session.Data{
		UserID:    user.ID.Hex(),
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, auth.HashToken(sid), data, s.cfg.SessionTTL); err != nil {
		return Session{}, store.User{}, fmt.Errorf("save session: %w", err)
	}

	return Session{ID: sid, UserID: data.UserID, Name: user.Name, Email: user.Email}, user, nil
}

// SessionFromCookie resolves a cookie value to an authenticated session. The
// user must still exist; a deleted user's cookie is as good as no cookie.
func (s *Service) SessionFromCookie(ctx context.Context, sid string) (Session, error) {
	data, err := s.sessions.Lookup(ctx, auth.HashToken(sid))
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: sid, UserID: user.ID.Hex(), Name: user.Name, Email: user.Email}, nil
}

// Logout invalidates the session. Revocation failures are logged and
// swallowed: logout must never fail visibly.
func (s *Service) Logout(ctx context.Context, sid string) {
	if sid == "" {
		return
	}
	if err := s.sessions.Revoke(ctx, auth.HashToken(sid)); err != nil {
		log.Printf("logout: revoke session: %v", err)
	}
}

func (s *Service) Profile(ctx context.Context, sess Session) (store.User, error) {
	return s.store.GetUserByID(ctx, sess.UserID)
}

// ── People ──

func (s *Service) CreatePerson(ctx context.Context, sess Session, name string, photo *Upload) (store.Person, error) {
	if err := validate.Struct(createPersonInput{Name: name}); err != nil {
		return store.Person{}, domainError(400, "Name is required", nil)
	}

	var photoURL *string
	if photo != nil {
		url, err := s.blobs.Store(ctx, photo.Filename, photo.ContentType, photo.Size, photo.Content)
		if err != nil {
			return store.Person{}, domainError(500, "Error uploading photo", err)
		}
		photoURL = &url
	}

	person, err := s.store.InsertPerson(ctx, sess.UserID, store.Person{
		Name:           name,
		ProfilePicture: photoURL,
	})
	if err != nil {
		return store.Person{}, err
	}
	if err := s.store.AddPersonRef(ctx, sess.UserID, person.ID.Hex()); err != nil {
		log.Printf("create person %s: add owner ref: %v", person.ID.Hex(), err)
	}
	return person, nil
}

func (s *Service) ListPeople(ctx context.Context, sess Session) ([]store.Person, error) {
	people, err := s.store.ListPeople(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if people == nil {
		people = []store.Person{}
	}
	return people, nil
}

// UpdatePersonPhoto replaces the profile picture: the old blob is deleted
// first (best-effort), the new one stored, then the record's pointer swapped.
// The record never points at a blob that no longer exists.
func (s *Service) UpdatePersonPhoto(ctx context.Context, sess Session, personID string, photo Upload) (store.Person, error) {
	person, err := s.store.GetPerson(ctx, personID, sess.UserID)
	if err != nil {
		return store.Person{}, personNotFound(err)
	}

	if person.ProfilePicture != nil {
		if err := s.blobs.Delete(ctx, *person.ProfilePicture); err != nil {
			log.Printf("update photo for person %s: delete old blob: %v", personID, err)
		}
	}

	url, err := s.blobs.Store(ctx, photo.Filename, photo.ContentType, photo.Size, photo.Content)
	if err != nil {
		return store.Person{}, domainError(500, "Error uploading photo", err)
	}

	return s.store.SetPersonPhoto(ctx, personID, sess.UserID, url)
}

// DeletePerson removes the record atomically, then cleans up its blobs
// (profile picture and memory photos) best-effort.
func (s *Service) DeletePerson(ctx context.Context, sess Session, personID string) (store.Person, error) {
	person, err := s.store.DeletePerson(ctx, personID, sess.UserID)
	if err != nil {
		return store.Person{}, personNotFound(err)
	}

	if err := s.store.RemovePersonRef(ctx, sess.UserID, personID); err != nil {
		log.Printf("delete person %s: remove owner ref: %v", personID, err)
	}
	if person.ProfilePicture != nil {
		if err := s.blobs.Delete(ctx, *person.ProfilePicture); err != nil {
			log.Printf("delete person %s: delete photo blob: %v", personID, err)
		}
	}
	for _, memory := range person.Memories {
		if memory.Photo == nil {
			continue
		}
		if err := s.blobs.Delete(ctx, *memory.Photo); err != nil {
			log.Printf("delete person %s: delete memory photo blob: %v", personID, err)
		}
	}
	return person, nil
}

func (s *Service) DeleteAllPeople(ctx context.Context, sess Session) (int64, error) {
	return s.store.DeleteAllPeople(ctx, sess.UserID)
}

// ── Memories & comments ──

// AddMemory resolves the parent first: an absent or foreign Person
// short-circuits before any blob work.
func (s *Service) AddMemory(ctx context.Context, sess Session, personID, title, comment string, photo *Upload) (store.Person, error) {
	if err := validate.Struct(addMemoryInput{Title: title}); err != nil {
		return store.Person{}, domainError(400, "Title is required", nil)
	}

	if _, err := s.store.GetPerson(ctx, personID, sess.UserID); err != nil {
		return store.Person{}, personNotFound(err)
	}

	var photoURL *string
	if photo != nil {
		url, err := s.blobs.Store(ctx, photo.Filename, photo.ContentType, photo.Size, photo.Content)
		if err != nil {
			return store.Person{}, domainError(500, "Error uploading photo", err)
		}
		photoURL = &url
	}

	return s.store.AppendMemory(ctx, personID, sess.UserID, store.NewMemory(title, photoURL, comment))
}

// UpdateMemory replaces the title unconditionally with the request value. A
// new photo replaces the old blob (delete-old best-effort, then store-new).
func (s *Service) UpdateMemory(ctx context.Context, sess Session, personID, memoryID, title string, photo *Upload) (store.Person, error) {
	person, err := s.store.GetPerson(ctx, personID, sess.UserID)
	if err != nil {
		return store.Person{}, personNotFound(err)
	}
	memory := findMemory(person, memoryID)
	if memory == nil {
		return store.Person{}, domainError(404, "Memory not found", nil)
	}

	var photoURL *string
	if photo != nil {
		if memory.Photo != nil {
			if err := s.blobs.Delete(ctx, *memory.Photo); err != nil {
				log.Printf("update memory %s: delete old blob: %v", memoryID, err)
			}
		}
		url, err := s.blobs.Store(ctx, photo.Filename, photo.ContentType, photo.Size, photo.Content)
		if err != nil {
			return store.Person{}, domainError(500, "Error uploading photo", err)
		}
		photoURL = &url
	}

	return s.store.SetMemory(ctx, personID, sess.UserID, memoryID, title, photoURL)
}

func (s *Service) DeleteMemory(ctx context.Context, sess Session, personID, memoryID string) (store.Person, error) {
	person, err := s.store.GetPerson(ctx, personID, sess.UserID)
	if err != nil {
		return store.Person{}, personNotFound(err)
	}
	memory := findMemory(person, memoryID)
	if memory == nil {
		return store.Person{}, domainError(404, "Memory not found", nil)
	}

	updated, err := s.store.RemoveMemory(ctx, personID, sess.UserID, memoryID)
	if err != nil {
		return store.Person{}, err
	}
	if memory.Photo != nil {
		if err := s.blobs.Delete(ctx, *memory.Photo); err != nil {
			log.Printf("delete memory %s: delete photo blob: %v", memoryID, err)
		}
	}
	return updated, nil
}

// AddComment appends to a Memory's comment list and returns the updated
// Memory, not the whole Person.
func (s *Service) AddComment(ctx context.Context, sess Session, personID, memoryID, text string) (store.Memory, error) {
	if err := validate.Struct(addCommentInput{Text: text}); err != nil {
		return store.Memory{}, domainError(400, "Comment text is required", nil)
	}

	person, err := s.store.GetPerson(ctx, personID, sess.UserID)
	if err != nil {
		return store.Memory{}, personNotFound(err)
	}
	if findMemory(person, memoryID) == nil {
		return store.Memory{}, domainError(404, "Memory not found", nil)
	}

	return s.store.AppendComment(ctx, personID, sess.UserID, memoryID, store.NewComment(text))
}

// ── Health ──

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}

func findMemory(person store.Person, memoryID string) *store.Memory {
	for i := range person.Memories {
		if person.Memories[i].ID.Hex() == memoryID {
			return &person.Memories[i]
		}
	}
	return nil
}

// personNotFound keeps the parent-resolution 404 message distinct from the
// generic mapError fallback.
func personNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domainError(404, "Person not found", nil)
	}
	return err
}
