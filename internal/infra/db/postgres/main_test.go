//go:build integration

package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

var testPool *pgxpool.Pool

// findProjectRoot walks up to the directory holding go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root containing go.mod")
}

func TestMain(m *testing.M) {
	ctx := context.Background()
	const (
		dbName     = "gate-test"
		dbUser     = "gate"
		dbPassword = "gate"
		dbPort     = "5432"
	)

	cmd := exec.Command("docker", "run", "-d", "--rm",
		"--network", "host",
		"-e", "POSTGRES_DB="+dbName,
		"-e", "POSTGRES_USER="+dbUser,
		"-e", "POSTGRES_PASSWORD="+dbPassword,
		"postgres:16-alpine",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		log.Fatalf("could not start postgres container: %v. Is Docker running?", err)
	}
	containerID := strings.TrimSpace(out.String())[:12]
	stop := func() { _ = exec.Command("docker", "stop", containerID).Run() }

	connStr := fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", dbUser, dbPassword, dbPort, dbName)
	var err error
	for i := 0; i < 15; i++ {
		testPool, err = pgxpool.Connect(ctx, connStr)
		if err == nil {
			if err = testPool.Ping(ctx); err == nil {
				break
			}
			testPool.Close()
		}
		log.Printf("Waiting for database to be ready... (attempt %d/15)", i+1)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		stop()
		log.Fatalf("Unable to connect to test database: %v", err)
	}

	root, err := findProjectRoot()
	if err != nil {
		stop()
		log.Fatalf("Error finding project root: %v", err)
	}
	schema, err := os.ReadFile(filepath.Join(root, "deploy", "postgres", "init.sql"))
	if err != nil {
		stop()
		log.Fatalf("could not read init.sql: %v", err)
	}
	if _, err := testPool.Exec(ctx, string(schema)); err != nil {
		stop()
		log.Fatalf("could not apply schema: %v", err)
	}

	exitCode := m.Run()

	testPool.Close()
	stop()
	os.Exit(exitCode)
}

func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE payment_states, subscriptions;`); err != nil {
		t.Fatalf("Failed to clean up database: %v", err)
	}
}
