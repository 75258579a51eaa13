package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cocomeza/alcontruccionessrl/gallery"
	"github.com/go-playground/validator/v10"
	"github.com/rs/xid"
)

var (
	// ErrInvalidProject is wrapped by Project.Validate failures.
	ErrInvalidProject = errors.New("invalid project")
	// ErrMediaNotFound is returned by RemoveMedia for an unknown URL.
	ErrMediaNotFound = errors.New("media not found")
)

// Project is one portfolio entry (an "obra").
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Images      []string  `json:"images" validate:"dive,required"`
	Videos      []string  `json:"videos" validate:"dive,required"`
	Category    string    `json:"category,omitempty" validate:"max=100"`
	Featured    bool      `json:"featured"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate normalises whitespace and checks required fields.
func (p *Project) Validate() error {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Category = strings.TrimSpace(p.Category)
	if err := validate.Struct(p); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return validationError(ruleMessage(ve[0]))
		}
		return err
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	if p.Videos == nil {
		p.Videos = []string{}
	}
	return nil
}

type projectValidationError string

func (e projectValidationError) Error() string { return string(e) }
func (e projectValidationError) Is(target error) bool {
	return target == ErrInvalidProject
}

func validationError(msg string) error { return projectValidationError(msg) }

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if strings.Contains(fe.Field(), "[") {
			return fe.Field() + " is empty"
		}
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	}
	return fe.Field() + " is invalid"
}

// Filter restricts List results. Zero values select everything.
type Filter struct {
	Category     string
	FeaturedOnly bool
	Limit        int
}

func (f Filter) match(p *Project) bool {
	if f.FeaturedOnly && !p.Featured {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, p.Category) {
		return false
	}
	return true
}

// ProjectStore is the content store of portfolio entries.
type ProjectStore interface {
	// List returns projects newest first.
	List(ctx context.Context, f Filter) ([]Project, error)
	Get(ctx context.Context, id string) (*Project, error)
	// Insert assigns ID and CreatedAt when they are empty.
	Insert(ctx context.Context, p *Project) error
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, id string) error
	// AddMedia appends u to the images or videos of project id. Concurrent
	// calls on the same project never lose an entry.
	AddMedia(ctx context.Context, id string, kind gallery.MediaKind, u string) (*Project, error)
	// RemoveMedia drops u from project id, or fails with ErrMediaNotFound.
	RemoveMedia(ctx context.Context, id string, u string) (*Project, error)
}

func addMedia(p *Project, kind gallery.MediaKind, u string) error {
	if u == "" {
		return validationError("media url is empty")
	}
	if kind == gallery.MediaKindVideo {
		p.Videos = append(p.Videos, u)
	} else {
		p.Images = append(p.Images, u)
	}
	return nil
}

func removeMedia(p *Project, u string) error {
	var found bool
	p.Images, found = without(p.Images, u, found)
	p.Videos, found = without(p.Videos, u, found)
	if !found {
		return ErrMediaNotFound
	}
	return nil
}

func without(us []string, u string, found bool) ([]string, bool) {
	out := make([]string, 0, len(us))
	for _, x := range us {
		if x == u {
			found = true
			continue
		}
		out = append(out, x)
	}
	return out, found
}

// prepareInsert validates p and fills the generated fields.
func prepareInsert(p *Project, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = xid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now.UTC()
	}
	return nil
}

func cloneProject(p *Project) *Project {
	c := *p
	c.Images = append([]string{}, p.Images...)
	c.Videos = append([]string{}, p.Videos...)
	return &c
}

func sortNewestFirst(ps []Project) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID > ps[j].ID
		}
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}

type memProjectStore struct {
	m     map[string]*Project
	mutex sync.RWMutex
	now   func() time.Time
}

// NewMemProjectStore creates an in-memory ProjectStore.
func NewMemProjectStore() ProjectStore {
	return &memProjectStore{m: make(map[string]*Project), now: time.Now}
}

func (s *memProjectStore) List(ctx context.Context, f Filter) ([]Project, error) {
	s.mutex.RLock()
	out := make([]Project, 0, len(s.m))
	for _, p := range s.m {
		if f.match(p) {
			out = append(out, *cloneProject(p))
		}
	}
	s.mutex.RUnlock()
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memProjectStore) Get(ctx context.Context, id string) (*Project, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	p, ok := s.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProject(p), nil
}

func (s *memProjectStore) Insert(ctx context.Context, p *Project) error {
	if err := prepareInsert(p, s.now()); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.m[p.ID]; ok {
		return errors.New("project " + p.ID + " already exists")
	}
	s.m[p.ID] = cloneProject(p)
	return nil
}

func (s *memProjectStore) Update(ctx context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	old, ok := s.m[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	s.m[p.ID] = cloneProject(p)
	return nil
}

func (s *memProjectStore) Delete(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.m[id]; !ok {
		return ErrNotFound
	}
	delete(s.m, id)
	return nil
}

func (s *memProjectStore) AddMedia(ctx context.Context, id string, kind gallery.MediaKind, u string) (*Project, error) {
	return s.mutate(id, func(p *Project) error { return addMedia(p, kind, u) })
}

func (s *memProjectStore) RemoveMedia(ctx context.Context, id string, u string) (*Project, error) {
	return s.mutate(id, func(p *Project) error { return removeMedia(p, u) })
}

// mutate applies fn to a copy of project id under the write lock.
func (s *memProjectStore) mutate(id string, fn func(*Project) error) (*Project, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	old, ok := s.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	p := cloneProject(old)
	if err := fn(p); err != nil {
		return nil, err
	}
	s.m[id] = p
	return cloneProject(p), nil
}
