package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"virtualhe/pkg/compositor"
	"virtualhe/pkg/imageio"
	"virtualhe/pkg/normalize"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		os.Exit(1)
	}
}

// describeError turns a pipeline failure into a one-line message
func describeError(err error) string {
	var (
		readErr    *imageio.ReadError
		writeErr   *imageio.WriteError
		shapeErr   *compositor.ShapeMismatchError
		degenerate *normalize.DegenerateImageError
	)
	switch {
	case errors.As(err, &readErr):
		return fmt.Sprintf("Error: cannot read input image: %v", err)
	case errors.As(err, &shapeErr):
		return fmt.Sprintf("Error: input channels must have the same size: %v", err)
	case errors.As(err, &degenerate):
		return fmt.Sprintf("Error: cannot normalize channel: %v", err)
	case errors.As(err, &writeErr):
		return fmt.Sprintf("Error: cannot write output image: %v", err)
	case errors.Is(err, context.Canceled):
		return "Error: interrupted, no output written"
	}
	return fmt.Sprintf("Error: %v", err)
}
