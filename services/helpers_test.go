package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"sosband-backend/database"
	"sosband-backend/dtos"
	"sosband-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testEnv struct {
	db        *gorm.DB
	gw        *database.Gateway
	cache     *fakeCache
	bracelets *BraceletService
	users     *UserService
	resolver  *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open("sqlite", dsn, 1)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	gw := database.NewGateway(db)
	cache := newFakeCache()
	users := NewUserService(gw, zap.NewNop())
	users.hash = cheapHash

	return &testEnv{
		db:        db,
		gw:        gw,
		cache:     cache,
		bracelets: NewBraceletService(gw, nil, cache, zap.NewNop()),
		users:     users,
		resolver:  NewResolver(gw, cache, zap.NewNop()),
	}
}

func cheapHash(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.MinCost)
	return string(b), err
}

func (e *testEnv) user(t *testing.T, email string, role models.Role) models.User {
	t.Helper()
	hash, _ := cheapHash("password123")
	u := models.User{Name: email, Email: email, Password: hash, Role: role}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func (e *testEnv) bracelet(t *testing.T, identifier string) models.Bracelet {
	t.Helper()
	b := models.Bracelet{Identifier: identifier}
	require.NoError(t, e.gw.CreateBracelet(context.Background(), &b, nil))
	return b
}

func (e *testEnv) ownedBracelet(t *testing.T, identifier string, owner models.User) models.Bracelet {
	t.Helper()
	b := e.bracelet(t, identifier)
	_, err := e.bracelets.Assign(context.Background(), b.ID, owner.ID)
	require.NoError(t, err)
	b.OwnerID = &owner.ID
	return b
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// fakeCache is an in-memory PageCache that records invalidations.
type fakeCache struct {
	mu          sync.Mutex
	pages       map[string]*dtos.SosPage
	gens        map[string]int64
	invalidated []string
	getErr      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{pages: map[string]*dtos.SosPage{}, gens: map[string]int64{}}
}

func (c *fakeCache) Get(_ context.Context, identifier string) (*dtos.SosPage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	p, ok := c.pages[identifier]
	return p, ok, nil
}

func (c *fakeCache) Generation(_ context.Context, identifier string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[identifier], nil
}

func (c *fakeCache) Set(_ context.Context, identifier string, page *dtos.SosPage, gen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[identifier] == gen {
		c.pages[identifier] = page
	}
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pages, identifier)
	c.gens[identifier]++
	c.invalidated = append(c.invalidated, identifier)
	return nil
}

func (c *fakeCache) invalidations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...)
}
