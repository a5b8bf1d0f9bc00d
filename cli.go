package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/TheGaf/gafTeddy/internal/config"
	"github.com/TheGaf/gafTeddy/internal/httpapi"
	"github.com/TheGaf/gafTeddy/internal/telemetry"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled.
func RunCLI(args []string) bool {
	switch args[0] {
	case "version":
		fmt.Printf("gafteddy %s\n", Version)
		return true
	case "start":
		return cliStart(args[1:])
	case "status":
		return cliStatus(args[1:])
	case "calibrate":
		return cliCalibrate(args[1:])
	case "say":
		return cliSay(args[1:])
	default:
		return false
	}
}

// loadConfig parses the shared -config flag and loads the tree.
func loadConfig(name string, args []string) (config.Config, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "config.json", "configuration file path")
	_ = fs.Parse(args)
	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg, fs.Args()
}

func cliStart(args []string) bool {
	cfg, _ := loadConfig("start", args)
	if err := setupLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up logging: %v\n", err)
		os.Exit(1)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("[app] %v", err)
	}
	log.Printf("[app] starting teddy, http=%s", cfg.HTTP.Addr)
	if err := app.Run(); err != nil {
		log.Fatalf("[app] %v", err)
	}
	return true
}

func cliStatus(args []string) bool {
	cfg, _ := loadConfig("status", args)
	st, err := telemetry.Read(cfg.Telemetry.StatusPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading status: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(st, "", "  ")
	fmt.Println(string(out))
	return true
}

func cliCalibrate(args []string) bool {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	path := fs.String("config", "config.json", "configuration file path")
	_ = fs.Parse(args)
	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := runCalibrator(*path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "calibrator: %v\n", err)
		os.Exit(1)
	}
	return true
}

func cliSay(args []string) bool {
	cfg, rest := loadConfig("say", args)
	text := strings.TrimSpace(strings.Join(rest, " "))
	if text == "" {
		fmt.Fprintln(os.Stderr, "usage: gafteddy say [flags] <text>")
		os.Exit(2)
	}
	tts := httpapi.NewTTS(cfg.HTTP.TTSUSBDevice, cfg.HTTP.TTSLoopbackDevice, cfg.HTTP.TTSEspeakRate)
	if err := tts.Speak(text, 0); err != nil {
		fmt.Fprintf(os.Stderr, "error speaking: %v\n", err)
		os.Exit(1)
	}
	// Playback is asynchronous; stay alive long enough for the temp WAV
	// cleanup to run.
	time.Sleep(3 * time.Second)
	return true
}
