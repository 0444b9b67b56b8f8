package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/gokrun"
	"github.com/loykin/gokrun/internal/auth"
	"github.com/loykin/gokrun/internal/settings"
	itls "github.com/loykin/gokrun/internal/tls"
	"github.com/loykin/gokrun/internal/updater"
	"github.com/loykin/gokrun/pkg/client"
	"github.com/loykin/gokrun/pkg/template"
)

type command struct {
	global *GlobalFlags
	// probe overrides layout discovery in tests.
	probe gokrun.Probe
}

func (c *command) loadConfig() (*gokrun.Config, error) {
	cfg, err := gokrun.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if c.global.PayloadRoot != "" {
		cfg.PayloadRoot = c.global.PayloadRoot
	}
	if c.global.InstallRoot != "" {
		cfg.InstallRoot = c.global.InstallRoot
	}
	return cfg, nil
}

func (c *command) supervisor(mutate func(*gokrun.Config)) (*gokrun.Supervisor, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	return gokrun.New(cfg, c.probe)
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Update runs one update session.
func (c *command) Update(ctx context.Context, w io.Writer, f UpdateFlags) error {
	sup, err := c.supervisor(nil)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	lastText := ""
	out := sup.Update(ctx, func(st gokrun.UpdateStatus) {
		if f.JSON {
			printJSONLine(w, map[string]any{"status": st})
			return
		}
		if st.Text != "" && st.Text != lastText && st.Phase != updater.PhaseDone {
			lastText = st.Text
			_, _ = fmt.Fprintln(w, st.Text)
		}
	})
	if f.JSON {
		printJSONLine(w, map[string]any{"outcome": out})
	} else {
		_, _ = fmt.Fprintln(w, out.Message)
	}
	if out.Kind == updater.OutcomeFailure {
		return errors.New("update failed")
	}
	if out.ApplyAndExit {
		// Let the scheduled exit take the process down.
		time.Sleep(gokrun.ExitGrace + time.Second)
	}
	return nil
}

// Launch starts the runtime host.
func (c *command) Launch(ctx context.Context, w io.Writer, f LaunchFlags) error {
	sup, err := c.supervisor(nil)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	p, plan, err := sup.Launch(ctx, f.Bootstrap)
	if err != nil {
		return err
	}
	if plan.Host == settings.HostGodot {
		_, _ = fmt.Fprintf(w, "Launched Godot runtime with project %s\n", plan.Project)
	} else {
		_, _ = fmt.Fprintln(w, "Game running.")
	}
	if !f.Wait {
		return nil
	}

	ctx, cancel := signalContext(ctx)
	defer cancel()
	if f.StopAfter > 0 {
		var stopCancel context.CancelFunc
		ctx, stopCancel = context.WithTimeout(ctx, f.StopAfter)
		defer stopCancel()
	}
	st, err := p.Wait(ctx)
	if err != nil {
		_ = p.Stop(2 * time.Second)
		st = p.Snapshot()
	}
	_, _ = fmt.Fprintf(w, "Runtime exited with code %d\n", st.ExitCode)
	return nil
}

// Events prints stream events until interrupted.
func (c *command) Events(ctx context.Context, w io.Writer, f EventsFlags) error {
	sup, err := c.supervisor(func(cfg *gokrun.Config) {
		if f.URL != "" {
			cfg.Events.URL = f.URL
		}
		if f.Token != "" {
			cfg.Backend.AccessToken = f.Token
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	ctx, cancel := signalContext(ctx)
	defer cancel()

	out := newLockedWriter(w)
	stream := sup.EventStream(func(ev gokrun.StreamEvent) {
		printJSONLine(out, ev.Raw)
	}, func(reason string) {
		printJSONLine(out, map[string]string{"disconnected": reason})
	})
	stream.Start()
	<-ctx.Done()
	stream.Stop()
	return nil
}

// Resolve prints what would run, with provenance.
func (c *command) Resolve(w io.Writer, f ResolveFlags) error {
	sup, err := c.supervisor(nil)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	return printJSON(w, sup.Resolve(f.Bootstrap))
}

// Serve runs the long-lived supervisor.
func (c *command) Serve(ctx context.Context, w io.Writer, f ServeFlags) error {
	sup, err := c.supervisor(func(cfg *gokrun.Config) {
		if f.Listen != "" {
			cfg.Server.Listen = f.Listen
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	ctx, cancel := signalContext(ctx)
	defer cancel()

	out := newLockedWriter(w)
	return sup.Serve(ctx, gokrun.ServeOptions{
		Stream: !f.NoStream,
		OnEvent: func(ev gokrun.StreamEvent) {
			printJSONLine(out, ev.Raw)
		},
		Ready: func(addr string) {
			_, _ = fmt.Fprintf(out, "status api listening on %s\n", addr)
		},
	})
}

// Status queries a running supervisor.
func (c *command) Status(ctx context.Context, w io.Writer, f StatusFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ccfg := client.Config{BaseURL: f.APIURL, Insecure: f.Insecure, Username: f.Username, Password: f.Password}
	if f.APIURL == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		if cfg.Server.Listen == "" {
			return errors.New("no status API address: pass --api-url or set server.listen")
		}
		ccfg.BaseURL = apiURL(cfg.Server)
		if ccfg.Username == "" && cfg.Server.Auth.Enabled {
			ccfg.Username = cfg.Server.Auth.Username
		}
		if cfg.Server.TLS.Enabled && f.CACert == "" && cfg.Server.TLS.Dir != "" {
			f.CACert = itls.CACertPath(cfg.Server.TLS.Dir)
		}
	}
	if f.CACert != "" {
		ccfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: f.CACert}
	}
	cl, err := client.New(ccfg)
	if err != nil {
		return err
	}

	if f.Trigger {
		if err := cl.TriggerUpdate(ctx); err != nil {
			return fmt.Errorf("trigger update: %w", err)
		}
		_, _ = fmt.Fprintln(w, "Update session started.")
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if err := printJSON(w, st); err != nil {
		return err
	}
	if f.History > 0 {
		evs, err := cl.History(ctx, f.History)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		return printJSON(w, evs)
	}
	return nil
}

// Init renders a starter config to stdout or a file.
func Init(w io.Writer, f InitFlags) error {
	b, err := template.NewGenerator(f.BaseURL).GenerateTOML(template.TemplateType(f.Type))
	if err != nil {
		return err
	}
	if f.Output == "" {
		_, err = w.Write(b)
		return err
	}
	if _, err := os.Stat(f.Output); err == nil && !f.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", f.Output)
	}
	if err := os.WriteFile(f.Output, b, 0o600); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Wrote %s config to %s\n", f.Type, f.Output)
	return nil
}

// HashPassword prints the bcrypt hash of the given password.
func HashPassword(w io.Writer, f HashPasswordFlags) error {
	h, err := auth.HashPassword(f.Password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, h)
	return err
}

// apiURL turns a listen address into a base URL; wildcard hosts dial loopback.
func apiURL(s gokrun.ServerConfig) string {
	scheme := "http"
	if s.TLS.Enabled {
		scheme = "https"
	}
	base := strings.TrimRight(strings.TrimSpace(s.BasePath), "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	host, port, err := net.SplitHostPort(s.Listen)
	if err != nil {
		return scheme + "://" + s.Listen + base
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return scheme + "://" + net.JoinHostPort(host, port) + base
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printJSONLine(w io.Writer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(w, string(b))
}
