// Command mess appends to and reads from a message store.
//
// Usage:
//
//	mess --driver sqlite --path ./messages.db append order-1 OrderPlaced --data '{"total":42}'
//	mess --config messtore.yaml category order --format json
//	mess schema --engine postgres
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/getpup/messtore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
