// Package main provides the recipes CLI: it trains the VQ-VAE and Tacotron2
// recipes from a YAML configuration on one or more in-process workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

func usage(w io.Writer) {
	fmt.Fprintf(w, "recipes %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version     Show version")
	fmt.Fprintln(w, "  vqvae       Train the VQ-VAE on an image dataset")
	fmt.Fprintln(w, "  tacotron2   Train Tacotron2 on a speech corpus")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'recipes <command> -h' for the flags of a command.")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var run func(context.Context, *runFlags) error
	switch os.Args[1] {
	case "version":
		fmt.Printf("recipes %s\n", version)
		return
	case "vqvae":
		run = runVQVAE
	case "tacotron2":
		run = runTacotron2
	case "help", "-h", "-help", "--help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	klog.InitFlags(fs)
	rf := registerFlags(fs)
	_ = fs.Parse(os.Args[2:])
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, rf); err != nil {
		klog.Fatalf("%s failed: %+v", os.Args[1], err)
	}
}
