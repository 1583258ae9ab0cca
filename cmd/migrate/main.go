package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/resale-ledger/pkg/config"
	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/migrate"
)

const usage = `usage: migrate -cmd <command> [flags]

commands not touching the database:
  create    -name <name> [-dir <dir>]   write a new empty SQL migration
  validate  [-dir <dir>]                check filenames and goose annotations

commands against DB_* from the environment:
  up        apply pending migrations
  down      roll back the latest migration
  status    list migrations and whether they are applied
  to        -version <YYYYMMDDHHMMSS>  migrate up or down to a version

-dir defaults to the migrations compiled into the binary, except for create
which always writes to disk.
`

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "create|validate|up|down|status|to")
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded copy")
	name := flag.String("name", "", "migration name for create")
	version := flag.String("version", "", "target version for to")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail("load config", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	src := migrate.Source{Dir: *dir}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"source": src.String(),
	})

	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.Create(target, *name, time.Now())
		if err != nil {
			fail("create migration", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		fsys, err := src.FS()
		if err != nil {
			fail("open migrations", err)
		}
		if err := migrate.Validate(fsys); err != nil {
			fail("validate migrations", err)
		}
		fmt.Println("migrations valid:", src)
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail("connect database", err)
	}
	defer dbClient.Close()

	if cfg.DB.IsSQLite() {
		// The SQL files use Postgres types; sqlite is built from the models.
		if *cmd != "up" {
			fail("sqlite driver", fmt.Errorf("-cmd=%s needs postgres", *cmd))
		}
		if err := migrate.AutoMigrate(dbClient.DB()); err != nil {
			fail("auto-migrate sqlite", err)
		}
		logg.Info(ctx, "sqlite schema migrated")
		return
	}

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail("extract sql.DB", err)
	}
	runner, err := migrate.NewRunner(sqlDB, src, logg)
	if err != nil {
		fail("prepare migrations", err)
	}

	switch *cmd {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "to":
		target, parseErr := strconv.ParseInt(*version, 10, 64)
		if parseErr != nil {
			fail("parse -version", fmt.Errorf("%q is not YYYYMMDDHHMMSS: %w", *version, parseErr))
		}
		err = runner.To(ctx, target)
	case "status":
		err = printStatus(ctx, runner)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
	if current, err := runner.Version(ctx); err == nil {
		logg.Info(logg.WithField(ctx, "db_version", current), "migrate done")
	}
}

func printStatus(ctx context.Context, runner *migrate.Runner) error {
	states, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, st := range states {
		state, at := "pending", "-"
		if st.Applied {
			state, at = "applied", st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Version, state, at, st.File)
	}
	return w.Flush()
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "migrate: %s: %v\n", step, err)
	os.Exit(1)
}
