// Package main provides CLI for instance management.
// Usage: instance create --name "Main shop" --url https://shop.example.com --key ck_x --secret cs_x
//        instance list
//        instance deactivate <instance-id>
package main

import (
	"context"
	"fmt"
	"os"

	"storesync/internal/core/id"
	"storesync/internal/domain/instance"
	"storesync/internal/infrastructure/storage/postgres"
	"storesync/internal/infrastructure/storage/postgres/sync_repo"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "create":
		createInstance(ctx)
	case "list":
		listInstances(ctx)
	case "activate":
		setActive(ctx, true)
	case "deactivate":
		setActive(ctx, false)
	case "delete":
		deleteInstance(ctx)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Storesync Instance Management CLI

Usage:
  instance <command> [options]

Commands:
  create      Register a new storefront connection
  list        List all connections
  activate    Activate a connection
  deactivate  Deactivate a connection
  delete      Delete a connection and everything it owns
  help        Show this help

Environment Variables:
  DATABASE_URL    Connection string for the storesync database (required)

Examples:
  instance create --name "Main shop" --url https://shop.example.com --key ck_xxx --secret cs_xxx
  instance create --name "Mirror" --url https://mirror.example.com --key ck_y --secret cs_y --direction bidirectional
  instance list
  instance deactivate <instance-uuid>
  instance delete <instance-uuid>`)
}

func getService(ctx context.Context) (*instance.Service, func()) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Println("Error: DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}

	txManager := postgres.NewTxManager(pool)
	return instance.NewService(sync_repo.NewInstanceRepo(txManager), txManager), pool.Close
}

func createInstance(ctx context.Context) {
	var name, storeURL, key, secret, direction, webhookSecret string

	for i := 2; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--name":
			if i+1 < len(os.Args) {
				name = os.Args[i+1]
				i++
			}
		case "--url":
			if i+1 < len(os.Args) {
				storeURL = os.Args[i+1]
				i++
			}
		case "--key":
			if i+1 < len(os.Args) {
				key = os.Args[i+1]
				i++
			}
		case "--secret":
			if i+1 < len(os.Args) {
				secret = os.Args[i+1]
				i++
			}
		case "--direction":
			if i+1 < len(os.Args) {
				direction = os.Args[i+1]
				i++
			}
		case "--webhook-secret":
			if i+1 < len(os.Args) {
				webhookSecret = os.Args[i+1]
				i++
			}
		}
	}

	if name == "" || storeURL == "" || key == "" || secret == "" {
		fmt.Println("Error: --name, --url, --key and --secret are required")
		fmt.Println("Usage: instance create --name <name> --url <url> --key <consumer-key> --secret <consumer-secret> [--direction erp_to_store|store_to_erp|bidirectional]")
		os.Exit(1)
	}

	service, closePool := getService(ctx)
	defer closePool()

	inst := instance.New(name, storeURL, key, secret)
	inst.WebhookSecret = webhookSecret
	if direction != "" {
		inst.Direction = instance.Direction(direction)
	}

	if err := service.Create(ctx, inst); err != nil {
		fmt.Printf("Error creating instance: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n✓ Instance '%s' created successfully!\n", name)
	fmt.Printf("  Instance ID: %s\n", inst.ID)
	fmt.Printf("  Storefront: %s\n", storeURL)
	fmt.Printf("  Direction: %s\n", inst.Direction)
}

func listInstances(ctx context.Context) {
	service, closePool := getService(ctx)
	defer closePool()

	insts, err := service.List(ctx)
	if err != nil {
		fmt.Printf("Error listing instances: %v\n", err)
		os.Exit(1)
	}

	if len(insts) == 0 {
		fmt.Println("No instances registered.")
		return
	}

	fmt.Printf("%-36s  %-24s  %-14s  %-8s  %s\n", "ID", "NAME", "DIRECTION", "ACTIVE", "STOREFRONT")
	for _, inst := range insts {
		fmt.Printf("%-36s  %-24s  %-14s  %-8t  %s\n",
			inst.ID, inst.Name, inst.Direction, inst.Active, inst.StoreURL)
	}
}

func parseIDArg() id.ID {
	if len(os.Args) < 3 {
		fmt.Println("Error: instance id is required")
		os.Exit(1)
	}
	instID, err := id.Parse(os.Args[2])
	if err != nil {
		fmt.Printf("Error: invalid instance id %q\n", os.Args[2])
		os.Exit(1)
	}
	return instID
}

func setActive(ctx context.Context, active bool) {
	instID := parseIDArg()

	service, closePool := getService(ctx)
	defer closePool()

	inst, err := service.GetByID(ctx, instID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	inst.Active = active
	if err := service.Update(ctx, inst); err != nil {
		fmt.Printf("Error updating instance: %v\n", err)
		os.Exit(1)
	}

	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Printf("✓ Instance '%s' %s\n", inst.Name, state)
}

func deleteInstance(ctx context.Context) {
	instID := parseIDArg()

	service, closePool := getService(ctx)
	defer closePool()

	inst, err := service.GetByID(ctx, instID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("This deletes instance '%s' and all of its sync records, webhook configs and tasks.\n", inst.Name)
	fmt.Print("Type the instance name to confirm: ")
	var confirm string
	if _, err := fmt.Scanln(&confirm); err != nil || confirm != inst.Name {
		fmt.Println("Aborted.")
		os.Exit(1)
	}

	if err := service.Delete(ctx, instID); err != nil {
		fmt.Printf("Error deleting instance: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Instance '%s' deleted\n", inst.Name)
}
