//go:build integration

package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"sosband-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "sosband",
				"POSTGRES_PASSWORD": "sosband",
				"POSTGRES_DB":       "sosband",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=sosband password=sosband dbname=sosband sslmode=disable TimeZone=UTC", host, port.Port())
	db, err := Open("postgres", dsn, 20)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func TestPostgresConcurrentAssignHasOneWinner(t *testing.T) {
	db := startPostgres(t)
	gw := NewGateway(db)
	ctx := context.Background()

	alice := models.User{Name: "Alice", Email: "alice@x.com", Password: "x", Role: models.RoleCustomer}
	require.NoError(t, gw.CreateUser(ctx, &alice))
	b := models.Bracelet{Identifier: "PUL001"}
	require.NoError(t, gw.CreateBracelet(ctx, &b, nil))

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = gw.SetOwner(ctx, b.ID, nil, alice.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrStaleOwner)
	}
	assert.Equal(t, 1, wins)
}

func TestPostgresBlockAndAssignKeepOwnersCustomers(t *testing.T) {
	db := startPostgres(t)
	gw := NewGateway(db)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		u := models.User{Name: "C", Email: fmt.Sprintf("c%d@x.com", round), Password: "x", Role: models.RoleCustomer}
		require.NoError(t, gw.CreateUser(ctx, &u))
		b := models.Bracelet{Identifier: fmt.Sprintf("RACE%03d", round)}
		require.NoError(t, gw.CreateBracelet(ctx, &b, nil))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = gw.SetOwner(ctx, b.ID, nil, u.ID) }()
		go func() { defer wg.Done(); _, _ = gw.SetCustomerActive(ctx, u.ID, false) }()
		wg.Wait()

		loaded, err := gw.FindBracelet(ctx, b.ID)
		require.NoError(t, err)
		if loaded.OwnerID != nil {
			owner, err := gw.FindUser(ctx, *loaded.OwnerID)
			require.NoError(t, err)
			assert.Equal(t, models.RoleCustomer, owner.Role, "round %d: owner must be a customer", round)
		}
	}
}

func TestPostgresTransferWaitsForCallerWrite(t *testing.T) {
	db := startPostgres(t)
	gw := NewGateway(db)
	ctx := context.Background()

	alice := models.User{Name: "Alice", Email: "alice@x.com", Password: "x", Role: models.RoleCustomer}
	bob := models.User{Name: "Bob", Email: "bob@x.com", Password: "x", Role: models.RoleCustomer}
	require.NoError(t, gw.CreateUser(ctx, &alice))
	require.NoError(t, gw.CreateUser(ctx, &bob))
	b := models.Bracelet{Identifier: "PUL001"}
	require.NoError(t, gw.CreateBracelet(ctx, &b, nil))
	require.NoError(t, gw.SetOwner(ctx, b.ID, nil, alice.ID))

	// Right after alice's ownership check, start a transfer to bob. It must
	// not complete while her write transaction is still open.
	transferred := make(chan error, 1)
	var once sync.Once
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:transfer_after_check", func(tx *gorm.DB) {
		if _, locked := tx.Statement.Clauses["FOR"]; !locked || tx.Statement.Table != "bracelets" {
			return
		}
		once.Do(func() {
			go func() { transferred <- gw.SetOwner(ctx, b.ID, &alice.ID, bob.ID) }()
			select {
			case err := <-transferred:
				transferred <- err
				t.Error("transfer completed while the owner's write was in flight")
			case <-time.After(300 * time.Millisecond):
			}
		})
	}))

	_, err := gw.ForCaller(alice.ID).UpsertProfile(ctx, b.ID, func(p *models.SosProfile) { p.Name = "Alice" })
	require.NoError(t, err)
	require.NoError(t, <-transferred)

	loaded, err := gw.FindBracelet(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, *loaded.OwnerID)

	// The stale caller can no longer write once the transfer committed.
	_, err = gw.ForCaller(alice.ID).UpsertProfile(ctx, b.ID, func(p *models.SosProfile) { p.Name = "late" })
	assert.ErrorIs(t, err, ErrStaleOwner)
}
