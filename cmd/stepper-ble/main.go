package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chaz8081/stepper-ble/internal/ble"
	"github.com/chaz8081/stepper-ble/internal/config"
	"github.com/chaz8081/stepper-ble/internal/control"
	"github.com/chaz8081/stepper-ble/internal/hotkey"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/stepper-ble/config.yaml)")
	auto := flag.Bool("auto", false, "connect to the strongest matching device without prompting")
	scanOnly := flag.Bool("scan", false, "list matching devices and exit")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("write config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	adapter := ble.NewTinyGoAdapter()

	if *scanOnly {
		devices, err := ble.ScanForDevices(adapter, cfg.Profile().Filter(), cfg.Connect.ScanTimeout)
		if err != nil {
			log.Fatalf("scan: %v", err)
		}
		for _, d := range devices {
			fmt.Printf("%s\t%s\tRSSI %d\n", d.Address, d.Name, d.RSSI)
		}
		return
	}

	printBanner(cfg)

	stdin := bufio.NewReader(os.Stdin)
	var chooser ble.Chooser = ble.PromptChooser{In: stdin, Out: os.Stdout}
	if *auto || cfg.Connect.AutoSelect {
		chooser = ble.FirstChooser{}
	}

	opts := cfg.ClientOptions()
	opts.OnState = func(s ble.State) {
		log.Printf("Status: %s", s)
	}
	client, err := ble.NewClient(adapter, chooser, cfg.Profile(), opts)
	if err != nil {
		log.Fatalf("ble client: %v", err)
	}

	panel := control.NewPanel(client, control.NewSpeed(cfg.Motor.DefaultSpeed), cfg.Motor.SpeedStep)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connect(ctx, client)

	// Initialize hotkey listener
	listener := hotkey.NewListener([]hotkey.Binding{
		{Action: hotkey.ActionForward, Keys: cfg.Hotkey.Forward},
		{Action: hotkey.ActionReverse, Keys: cfg.Hotkey.Reverse},
		{Action: hotkey.ActionFaster, Keys: cfg.Hotkey.Faster},
		{Action: hotkey.ActionSlower, Keys: cfg.Hotkey.Slower},
	}, cfg.Hotkey.Mode)
	go listener.Start()

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The reader waits for an ack after each line so the device chooser can
	// own stdin while a reconnect is running.
	lines := make(chan string)
	ack := make(chan struct{})
	go func() {
		defer close(lines)
		for {
			line, err := stdin.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
			<-ack
		}
	}()

	log.Printf("Ready! Hold %s / %s to run. Type 'help' for commands.",
		strings.Join(cfg.Hotkey.Forward, "+"), strings.Join(cfg.Hotkey.Reverse, "+"))

	// Reconnects run off the loop so hotkey releases keep flowing while
	// the scan and chooser are busy.
	connectDone := make(chan struct{})

	// Main event loop
	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				log.Println("Hotkey listener stopped")
				events = nil
				continue
			}
			if err := dispatch(panel, ev); err != nil {
				log.Printf("ERROR: %v", err)
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if isConnectCommand(line) {
				// stdin stays with the chooser until connectDone.
				startReconnect(panel, func() { connect(ctx, client) }, connectDone)
				continue
			}
			quit := handleCommand(client, panel, line)
			if quit {
				shutdown(client, panel, listener)
				return
			}
			ack <- struct{}{}

		case <-connectDone:
			ack <- struct{}{}

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			shutdown(client, panel, listener)
			// Exit directly to avoid gohook's C cleanup crash.
			os.Exit(0)
		}
	}
}

// connect runs one Connect and reports the outcome. On success it starts a
// readout of the new session's position stream.
func connect(ctx context.Context, client *ble.Client) {
	err := client.Connect(ctx)
	switch {
	case err == nil:
		go showPositions(client.Session())
	case errors.Is(err, ble.ErrNoDeviceSelected):
		log.Println("No device selected")
	case errors.Is(err, ble.ErrConnectInProgress):
		log.Println("Already connecting")
	default:
		log.Printf("ERROR: connect failed: %v", err)
	}
}

// startReconnect stops the motor before the session can change hands, then
// runs connectFn in the background and signals done when it returns.
func startReconnect(panel *control.Panel, connectFn func(), done chan<- struct{}) {
	if err := panel.ReleaseAll(); err != nil {
		log.Printf("ERROR: %v", err)
	}
	go func() {
		connectFn()
		done <- struct{}{}
	}()
}

// showPositions prints samples until the session tears down.
func showPositions(s *ble.Session) {
	for p := range s.Positions() {
		fmt.Printf("Position: %s\n", p)
	}
}

// dispatch routes a hotkey event to the control panel.
func dispatch(panel *control.Panel, ev hotkey.Event) error {
	switch ev.Action {
	case hotkey.ActionForward:
		if ev.Type == hotkey.EventPress {
			return panel.PressForward()
		}
		return panel.Forward.Release()
	case hotkey.ActionReverse:
		if ev.Type == hotkey.EventPress {
			return panel.PressReverse()
		}
		return panel.Reverse.Release()
	case hotkey.ActionFaster:
		return panel.Faster()
	case hotkey.ActionSlower:
		return panel.Slower()
	}
	return nil
}

func isConnectCommand(line string) bool {
	switch strings.ToLower(line) {
	case "c", "connect":
		return true
	}
	return false
}

// handleCommand executes one console command and reports whether to quit.
func handleCommand(client *ble.Client, panel *control.Panel, line string) bool {
	switch strings.ToLower(line) {
	case "":
		return false
	case "q", "quit", "exit":
		return true
	case "s", "stop":
		if err := panel.ReleaseAll(); err != nil {
			log.Printf("ERROR: %v", err)
		}
		if err := client.SendCommand(0); err != nil {
			log.Printf("ERROR: stop: %v", err)
		}
	case "r", "read":
		p, err := client.ReadPosition()
		if err != nil {
			log.Printf("ERROR: read position: %v", err)
			return false
		}
		fmt.Printf("Position: %s\n", p)
	case "h", "help", "?":
		printHelp()
	default:
		v, err := strconv.Atoi(line)
		if err != nil {
			log.Printf("Unknown command %q (type 'help')", line)
			return false
		}
		log.Printf("Speed: %d", panel.Speed.Set(v))
	}
	return false
}

func shutdown(client *ble.Client, panel *control.Panel, listener *hotkey.Listener) {
	if err := panel.ReleaseAll(); err != nil {
		log.Printf("ERROR: %v", err)
	}
	if err := client.Close(); err != nil {
		log.Printf("ERROR: disconnect: %v", err)
	}
	listener.Stop()
	log.Println("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== stepper-ble ===")
	fmt.Printf("  Device:   %s* / %s\n", cfg.Device.NamePrefix, cfg.Device.ServiceUUID)
	fmt.Printf("  Retry:    %d attempts, %s backoff\n", cfg.Connect.MaxAttempts, cfg.Connect.RetryBackoff)
	fmt.Printf("  Motor:    %d microsteps/rev, speed %d (step %d)\n", cfg.Motor.MicrostepsPerRev, cfg.Motor.DefaultSpeed, cfg.Motor.SpeedStep)
	fmt.Printf("  Hotkeys:  fwd %s, rev %s (%s mode)\n", strings.Join(cfg.Hotkey.Forward, "+"), strings.Join(cfg.Hotkey.Reverse, "+"), cfg.Hotkey.Mode)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===================")
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  c, connect   pick a device and connect")
	fmt.Println("  0..100       set speed")
	fmt.Println("  s, stop      stop the motor")
	fmt.Println("  r, read      read the position counter")
	fmt.Println("  q, quit      disconnect and exit")
}
