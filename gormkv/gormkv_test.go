package gormkv_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bluescreen10/etcdstore/gormkv"
	"github.com/bluescreen10/etcdstore/kv/kvtest"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestContract(t *testing.T) {
	db, err := getDB(t)
	if err != nil {
		t.Fatal(err)
	}

	s, err := gormkv.New(db)
	if err != nil {
		t.Fatal(err)
	}

	kvtest.RunContract(t, s)
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	key := "sess/abc123"
	expectedData := []byte("hello world")

	db, err := getDB(t)
	if err != nil {
		t.Fatal(err)
	}

	s, err := gormkv.New(db)
	if err != nil {
		t.Fatal(err)
	}

	lease, err := s.Grant(ctx, 3600)
	if err != nil {
		t.Fatal(err)
	}
	lease.Put(ctx, key, expectedData)
	data, found, err := s.Get(ctx, key)

	if err != nil {
		t.Fatal(err)
	}

	if string(data) != string(expectedData) {
		t.Fatalf("expected '%s' got '%s'", expectedData, data)
	}

	if !found {
		t.Fatalf("expected 'true' got '%v'", found)
	}
}

func TestGetExpired(t *testing.T) {
	ctx := context.Background()
	key := "sess/abc123"

	db, err := getDB(t)
	if err != nil {
		t.Fatal(err)
	}

	s, err := gormkv.New(db)
	if err != nil {
		t.Fatal(err)
	}

	lease, err := s.Grant(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	lease.Put(ctx, key, []byte("hello world"))

	time.Sleep(10 * time.Millisecond)
	_, found, err := s.Get(ctx, key)

	if err != nil {
		t.Fatal(err)
	}

	if found {
		t.Fatalf("expected 'false' got '%v'", found)
	}
}

func TestPrefixIsCaseSensitive(t *testing.T) {
	ctx := context.Background()

	db, err := getDB(t)
	if err != nil {
		t.Fatal(err)
	}

	s, err := gormkv.New(db)
	if err != nil {
		t.Fatal(err)
	}

	lease, _ := s.Grant(ctx, 60)
	lease.Put(ctx, "sess/a", []byte("lower"))
	lease.Put(ctx, "SESS/a", []byte("upper"))

	n, err := s.CountPrefix(ctx, "sess/")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item but got '%d'", n)
	}
}

func TestPrefixIsCaseSensitiveMySQL(t *testing.T) {
	ctx := context.Background()

	db, err := getMySQLDB(t)
	if err != nil {
		t.Fatal(err)
	}

	s, err := gormkv.New(db)
	if err != nil {
		t.Fatal(err)
	}

	lease, _ := s.Grant(ctx, 60)
	if err := lease.Put(ctx, "sess/a", []byte("lower")); err != nil {
		t.Fatal(err)
	}
	if err := lease.Put(ctx, "SESS/a", []byte("upper")); err != nil {
		t.Fatal(err)
	}

	data, found, err := s.Get(ctx, "sess/a")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(data) != "lower" {
		t.Fatalf("expected 'lower' got '%s' (found %v)", data, found)
	}

	n, err := s.CountPrefix(ctx, "sess/")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item but got '%d'", n)
	}

	if err := s.DeletePrefix(ctx, "sess/"); err != nil {
		t.Fatal(err)
	}
	_, found, err = s.Get(ctx, "SESS/a")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("expected 'true' got '%v'", found)
	}
}

func TestPeriodicCleanup(t *testing.T) {
	ctx := context.Background()

	db, err := getDB(t)
	if err != nil {
		t.Fatal(err)
	}

	s, err := gormkv.New(db)
	if err != nil {
		t.Fatal(err)
	}

	long, _ := s.Grant(ctx, 3600)
	long.Put(ctx, "abc123", []byte("hello world"))
	short, _ := s.Grant(ctx, 0)
	short.Put(ctx, "abc1234", []byte("hello world"))

	stop := make(chan (struct{}))
	go s.PeriodicCleanUp(20*time.Millisecond, stop)
	time.Sleep(50 * time.Millisecond)
	stop <- struct{}{}

	var result struct {
		Count int
	}

	db.Raw("SELECT count(*) as count FROM kv_entries").Scan(&result)

	if result.Count != 1 {
		t.Fatalf("expected 1 item but got '%d'", result.Count)
	}
}

// getDB opens a private in-memory database. The name is derived from the
// test so parallel packages never share a database.
func getDB(t *testing.T) (*gorm.DB, error) {
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db, nil
}

// getMySQLDB starts a MariaDB container, whose default collation ignores
// case.
func getMySQLDB(t *testing.T) (*gorm.DB, error) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	server, err := testcontainers.Run(
		ctx, "mariadb:latest",
		testcontainers.WithEnv(map[string]string{
			"MARIADB_ROOT_PASSWORD": "rootpass",
			"MARIADB_DATABASE":      "testdb",
			"MARIADB_USER":          "testuser",
			"MARIADB_PASSWORD":      "testpass",
		}),
		testcontainers.WithExposedPorts("3306/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("3306/tcp"),
			wait.ForLog("ready for connections"),
		),
	)
	if err != nil {
		return nil, err
	}
	testcontainers.CleanupContainer(t, server)

	host, err := server.Host(ctx)
	if err != nil {
		return nil, err
	}
	port, err := server.MappedPort(ctx, "3306")
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("testuser:testpass@tcp(%s:%s)/testdb?parseTime=true", host, port.Port())
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}
