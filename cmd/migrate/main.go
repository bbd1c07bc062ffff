package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/db"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/migrate"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up              apply all pending migrations
  down            roll back the latest migration
  status          list migrations and whether they are applied
  to <version>    migrate up or down to the given YYYYMMDDHHMMSS version
  create <name>   write a new empty migration into -dir
  validate        check migration file names and goose markers
`

func main() {
	dir := flag.String("dir", migrate.SourceDir, "source directory for create")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := logg.WithField(context.Background(), "cmd", args[0])

	if err := run(ctx, logg, *dir, args); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, dir string, args []string) (err error) {
	// create and validate work on files only, no database needed
	switch args[0] {
	case "create":
		if len(args) < 2 {
			return errors.New("create needs a migration name")
		}
		path, err := migrate.Create(dir, args[1], time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.Validate(migrate.Migrations()); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg = logger.ForService("migrate", cfg.App)
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return err
	}
	m, err := migrate.New(sqlDB, logg)
	if err != nil {
		return err
	}

	switch args[0] {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "to":
		if len(args) < 2 {
			return errors.New("to needs a target version")
		}
		version, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("version %q is not YYYYMMDDHHMMSS: %w", args[1], err)
		}
		return m.To(ctx, version)
	case "status":
		rows, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			state := "pending"
			if row.Applied {
				state = "applied"
			}
			fmt.Printf("%d  %-8s %s\n", row.Version, state, row.Path)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
