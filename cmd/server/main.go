package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ilisteam/ilis/internal/api"
	"github.com/ilisteam/ilis/internal/cache"
	"github.com/ilisteam/ilis/internal/clock"
	"github.com/ilisteam/ilis/internal/db"
	"github.com/ilisteam/ilis/internal/lending"
	"github.com/ilisteam/ilis/internal/mail"
	"github.com/ilisteam/ilis/internal/scheduler"
	"github.com/ilisteam/ilis/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: ilis <init|serve>")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\nUsage: ilis <init|serve>\n", os.Args[1])
		os.Exit(1)
	}
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dbPath := fs.String("db", "ilis.sqlite3", "path to SQLite database file")
	fs.Parse(args)

	if _, err := os.Stat(*dbPath); err == nil {
		fmt.Fprintf(os.Stderr, "Error: database file %s already exists\n", *dbPath)
		os.Exit(1)
	}

	database, password, err := initDatabase(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	database.Close()

	fmt.Printf("Database created: %s\n", *dbPath)
	fmt.Println("Schema initialized.")
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Username: admin\n")
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", "ilis.sqlite3", "path to SQLite database file")
	addr := fs.String("addr", ":8080", "listen address")
	clockOffset := fs.Duration("clock-offset", clock.DefaultOffset, "offset applied to UTC for all timestamps")
	minDuration := fs.Duration("min-duration", lending.DefaultMinDuration, "minimum rental duration")
	notifyFactor := fs.Float64("notification-factor", scheduler.DefaultNotificationFactor, "fraction of the rental window after which the return reminder fires")
	pollInterval := fs.Duration("poll-interval", scheduler.DefaultPollInterval, "how often the scheduler checks for due jobs")
	cacheTTL := fs.Duration("cache-ttl", 30*time.Second, "TTL for cached read queries (0 disables caching)")
	smtpHost := fs.String("smtp-host", "", "SMTP server host (emails are logged if empty)")
	smtpPort := fs.Int("smtp-port", 587, "SMTP server port")
	smtpUser := fs.String("smtp-user", "", "SMTP username")
	smtpPassword := fs.String("smtp-password", "", "SMTP password")
	smtpFrom := fs.String("smtp-from", "ilis@localhost", "From address for outgoing mail")
	fs.Parse(args)

	// Check if DB exists, auto-init if not.
	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		database, password, err := initDatabase(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		database.Close()

		fmt.Printf("Database created: %s\n", *dbPath)
		fmt.Println("Schema initialized.")
		fmt.Println()
		fmt.Println("Admin account created:")
		fmt.Printf("  Username: admin\n")
		fmt.Printf("  Password: %s\n", password)
		fmt.Println()
		fmt.Println("Save this password, it cannot be recovered.")
		fmt.Println("The admin can change it after logging in.")
		fmt.Println()
	}

	// Open database.
	database, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Run migrations (idempotent).
	if err := db.Migrate(database); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The JWT secret persists in the database so tokens survive restarts.
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		log.Fatalf("Failed to load JWT secret: %v", err)
	}

	clk := clock.System{Offset: *clockOffset}

	var notifier mail.Notifier = mail.LogSender{}
	if *smtpHost != "" {
		notifier = &mail.SMTPSender{
			Host:     *smtpHost,
			Port:     *smtpPort,
			Username: *smtpUser,
			Password: *smtpPassword,
			From:     *smtpFrom,
		}
	} else {
		log.Println("No SMTP server configured, reminder emails will be logged")
	}

	var c *cache.Cache
	if *cacheTTL > 0 {
		c = cache.New(*cacheTTL)
	}

	sched := &scheduler.Scheduler{
		DB:           database,
		Clock:        clk,
		Notifier:     notifier,
		Factor:       *notifyFactor,
		PollInterval: *pollInterval,
		Cache:        c,
	}

	lendingSvc := &lending.Service{
		DB:          database,
		Clock:       clk,
		Reminders:   sched,
		Cache:       c,
		MinDuration: *minDuration,
	}

	// Re-arm reminders for rentals that were already lent before this
	// process started.
	if err := sched.Sweep(ctx); err != nil {
		log.Fatalf("Failed to sweep pending reminders: %v", err)
	}
	go sched.Run(ctx)

	router := api.NewRouter(database, jwtSecret, lendingSvc, c)
	server := &http.Server{
		Addr:    *addr,
		Handler: api.LoggingMiddleware(router),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	fmt.Printf("Server listening on %s\n", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

// initDatabase creates a new database, runs migrations, and creates the admin user.
func initDatabase(path string) (*sql.DB, string, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(database); err != nil {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("running migrations: %w", err)
	}

	password, err := generatePassword(16)
	if err != nil {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("generating password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	ctx := context.Background()
	_, err = store.CreateUser(ctx, database, "admin", string(hash), "admin", "", "", "", "")
	if err != nil {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("creating admin user: %w", err)
	}

	return database, password, nil
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
