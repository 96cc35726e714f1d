package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/config"
	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/queue"
	"github.com/nimasrn/courier-dispatch/internal/repository"
	"github.com/nimasrn/courier-dispatch/internal/services"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"github.com/nimasrn/courier-dispatch/pkg/redis"
	"github.com/spf13/pflag"
)

const usage = `usage: cli [--env=<file>] <command>

commands:
  migrate [--dir=<migrations>]   apply pending migrations
  seed [--file=<seed.json>]      register deliverymen and recipients
  dlq list [--count=<n>]         show dead-lettered jobs
  dlq replay <id>                put a dead-lettered job back on the queue
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logger.Error("cli failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("cli", pflag.ContinueOnError)
	envPath := flags.String("env", "", "path to a .env file")
	dir := flags.String("dir", "", "migrations directory (migrate)")
	file := flags.String("file", "", "seed file (seed)")
	count := flags.Int64("count", 20, "number of dead letters to show (dlq list)")
	flags.SetInterspersed(true)
	if err := flags.Parse(args); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}

	switch rest[0] {
	case "migrate", "seed", "dlq":
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	if err := config.Load(*envPath); err != nil {
		return err
	}
	cfg := config.Get()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch rest[0] {
	case "migrate":
		path := *dir
		if path == "" {
			path = cfg.MigrationsDir
		}
		return pg.Migrate(cfg.PostgresWrite(), path)

	case "seed":
		seed := defaultSeed
		if *file != "" {
			var err error
			if seed, err = loadSeed(*file); err != nil {
				return err
			}
		}
		db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), false)
		if err != nil {
			return err
		}
		defer db.Close()
		svc := services.NewRegistrationService(repository.NewDeliverymanRepository(db), repository.NewRecipientRepository(db))
		return runSeed(ctx, svc, seed, out)

	default:
		if len(rest) < 2 {
			fmt.Fprint(out, usage)
			return fmt.Errorf("missing dlq subcommand")
		}
		adapter, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.Redis())
		if err != nil {
			return err
		}
		defer adapter.Close()
		q, err := queue.NewQueue(ctx, adapter, cfg.Queue())
		if err != nil {
			return err
		}
		return runDLQ(ctx, q, rest[1:], *count, out)
	}
}

type SeedFile struct {
	Deliverymen []model.CreateDeliverymanRequest `json:"deliverymen"`
	Recipients  []model.CreateRecipientRequest   `json:"recipients"`
}

var defaultSeed = SeedFile{
	Deliverymen: []model.CreateDeliverymanRequest{
		{Name: "Ana Souza", Email: "ana.souza@courier.local"},
		{Name: "Caio Lima", Email: "caio.lima@courier.local"},
	},
	Recipients: []model.CreateRecipientRequest{
		{Name: "Bruno Alves", Street: "Rua Augusta", Number: "1500", Complement: "Sala 12", State: "SP", City: "Sao Paulo", ZipCode: "01304-001"},
		{Name: "Carla Dias", Street: "Av. Paulista", Number: "900", State: "SP", City: "Sao Paulo", ZipCode: "01310-100"},
	},
}

func loadSeed(path string) (SeedFile, error) {
	var seed SeedFile
	b, err := os.ReadFile(path)
	if err != nil {
		return seed, err
	}
	if err := json.Unmarshal(b, &seed); err != nil {
		return seed, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return seed, nil
}

type Registrar interface {
	RegisterDeliveryman(ctx context.Context, req model.CreateDeliverymanRequest) (*model.Deliveryman, error)
	RegisterRecipient(ctx context.Context, req model.CreateRecipientRequest) (*model.Recipient, error)
}

// runSeed registers every entry and stops at the first error.
func runSeed(ctx context.Context, svc Registrar, seed SeedFile, out io.Writer) error {
	for _, req := range seed.Deliverymen {
		dm, err := svc.RegisterDeliveryman(ctx, req)
		if err != nil {
			return fmt.Errorf("deliveryman %s: %w", req.Email, err)
		}
		fmt.Fprintf(out, "deliveryman %d\t%s <%s>\n", dm.ID, dm.Name, dm.Email)
	}
	for _, req := range seed.Recipients {
		rc, err := svc.RegisterRecipient(ctx, req)
		if err != nil {
			return fmt.Errorf("recipient %s: %w", req.Name, err)
		}
		fmt.Fprintf(out, "recipient %d\t%s\n", rc.ID, rc.Name)
	}
	return nil
}

type DeadLetterQueue interface {
	DeadLetters(ctx context.Context, count int64) ([]queue.DeadLetter, error)
	Replay(ctx context.Context, id string) (string, error)
}

func runDLQ(ctx context.Context, q DeadLetterQueue, args []string, count int64, out io.Writer) error {
	switch args[0] {
	case "list":
		dead, err := q.DeadLetters(ctx, count)
		if err != nil {
			return err
		}
		for _, d := range dead {
			fmt.Fprintf(out, "%s\t%s\t%s\tattempts=%d\tfailed_at=%s\t%s\n",
				d.ID, d.JobID, d.Kind, d.Attempts, d.FailedAt.Format(time.RFC3339), d.Payload)
		}
		return nil
	case "replay":
		if len(args) < 2 {
			return fmt.Errorf("dlq replay needs a dead letter id")
		}
		id, err := q.Replay(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "replayed %s as %s\n", args[1], id)
		return nil
	}
	return fmt.Errorf("unknown dlq subcommand %q", args[0])
}
