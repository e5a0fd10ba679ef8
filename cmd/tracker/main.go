// Command tracker drives the tracking and alert workflows against a gateway:
// live route watching, raising an SOS, and responder actions on alerts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/config"
	"github.com/example/safety-tracking/internal/devices"
	"github.com/example/safety-tracking/internal/gateway"
	"github.com/example/safety-tracking/internal/lifecycle"
	"github.com/example/safety-tracking/internal/logging"
	"github.com/example/safety-tracking/internal/models"
	"github.com/example/safety-tracking/internal/route"
	"github.com/example/safety-tracking/internal/sos"
	"github.com/example/safety-tracking/internal/tracking"
)

const usage = `usage: tracker <command> [flags]

commands:
  watch      follow a device's route until interrupted
  sos        raise an emergency for a device at a given position
  respond    mark an alert as assigned
  resolve    resolve an alert
  ack        record a responder acknowledgement
  alert      show an alert with its responder slots
  devices    list, register, toggle or delete devices
  responder  report a responder position
`

func main() {
	cfg, err := config.LoadClientConfig()
	logger := logging.MustLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &app{
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
		client: gateway.New(gateway.Options{
			BaseURL:    cfg.GatewayURL,
			Token:      cfg.AuthToken,
			Timeout:    cfg.RequestTimeout,
			RetryCount: cfg.RetryCount,
		}, logger),
	}
	if err := app.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

type app struct {
	cfg    config.ClientConfig
	logger *zap.Logger
	out    io.Writer
	client *gateway.Client
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return flag.ErrHelp
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "watch":
		return a.watch(ctx, rest)
	case "sos":
		return a.sos(ctx, rest)
	case "respond", "resolve":
		return a.transition(ctx, cmd, rest)
	case "ack":
		return a.ack(ctx, rest)
	case "alert":
		return a.alert(ctx, rest)
	case "devices":
		return a.devices(ctx, rest)
	case "responder":
		return a.responder(ctx, rest)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	device := fs.String("device", "", "device id")
	override := fs.String("online", "", "force polling on or off: true or false (default: the device's online state)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device == "" {
		return errors.New("watch: -device is required")
	}
	online, err := a.deviceOnline(ctx, *device, *override)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	sess := tracking.Open(a.client, *device, online,
		tracking.WithInterval(a.cfg.PollInterval),
		tracking.WithLogger(a.logger),
		tracking.OnRoute(func(st tracking.State) {
			a.print(routeSummary(st))
		}),
		tracking.OnFit(func(ev tracking.FitEvent) {
			a.logger.Debug("fit to route", zap.Int("points", len(ev.Coords)))
		}),
	)
	defer sess.Close()
	<-ctx.Done()
	return nil
}

// deviceOnline reports whether id is online according to the gateway's
// device list, unless override pins the answer.
func (a *app) deviceOnline(ctx context.Context, id, override string) (bool, error) {
	switch override {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "":
	default:
		return false, fmt.Errorf("-online must be true or false, got %q", override)
	}
	r := devices.NewRoster(a.client)
	if err := r.Load(ctx); err != nil {
		return false, err
	}
	if err := r.Select(id); err != nil {
		return false, err
	}
	d, _ := r.Selected()
	return d.Online, nil
}

type summary struct {
	Points     int                 `json:"points"`
	Dropped    int                 `json:"dropped"`
	DistanceM  float64             `json:"distance_m"`
	Current    *models.RoutePoint  `json:"current,omitempty"`
	SOS        []models.RoutePoint `json:"sos,omitempty"`
	Refreshing bool                `json:"refreshing"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func routeSummary(st tracking.State) summary {
	s := summary{
		Points:     st.Route.Len(),
		Dropped:    st.Route.Dropped,
		DistanceM:  route.Distance(st.Route),
		SOS:        route.SOSPoints(st.Route),
		Refreshing: st.Refreshing,
		UpdatedAt:  st.UpdatedAt,
	}
	if cur, ok := st.Route.Current(); ok {
		s.Current = &cur
	}
	return s
}

func (a *app) sos(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sos", flag.ContinueOnError)
	device := fs.String("device", "", "device id")
	lat := fs.Float64("lat", 0, "latitude of the current fix")
	lon := fs.Float64("lon", 0, "longitude of the current fix")
	accuracy := fs.Float64("accuracy", 0, "fix accuracy in meters")
	deny := fs.Bool("deny-permission", false, "simulate a refused location permission")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device == "" {
		return errors.New("sos: -device is required")
	}
	wf := &sos.Workflow{
		Permissions:     staticPermission(!*deny),
		Locator:         staticLocator{pos: models.Position{Loc: models.Coord{Lat: *lat, Lon: *lon}, Accuracy: *accuracy}},
		Gateway:         a.client,
		LocationTimeout: a.cfg.LocationTimeout,
		Logger:          a.logger,
	}
	res, err := wf.Trigger(ctx, *device)
	a.print(res)
	return err
}

type staticPermission bool

func (p staticPermission) RequestLocationPermission(context.Context) (bool, error) {
	return bool(p), nil
}

type staticLocator struct{ pos models.Position }

func (l staticLocator) CurrentPosition(context.Context) (models.Position, error) {
	p := l.pos
	p.At = time.Now()
	return p, nil
}

func (a *app) transition(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	id := fs.String("alert", "", "alert id")
	role := fs.String("role", string(models.ActorPolice), "acting role: police, hospital or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	lc, err := a.lifecycle(ctx, *id)
	if err != nil {
		return err
	}
	actor := models.ActorRole(*role)
	if cmd == "respond" {
		err = lc.Respond(ctx, actor)
	} else {
		err = lc.Resolve(ctx, actor)
	}
	if err != nil {
		return err
	}
	a.print(alertSummary(lc, actor))
	return nil
}

func (a *app) ack(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ack", flag.ContinueOnError)
	id := fs.String("alert", "", "alert id")
	role := fs.String("role", string(models.ActorPolice), "responder role")
	responder := fs.String("responder", "", "responder id")
	contact := fs.String("contact", "", "contact number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ev, err := a.client.Acknowledge(ctx, *id, models.Acknowledgement{
		Role:        models.ActorRole(*role),
		ResponderID: *responder,
		Contact:     *contact,
	})
	if err != nil {
		return err
	}
	a.print(alertSummary(lifecycle.New(a.client, ev, a.logger), models.ActorRole(*role)))
	return nil
}

func (a *app) alert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("alert", flag.ContinueOnError)
	id := fs.String("alert", "", "alert id")
	role := fs.String("role", string(models.ActorPolice), "viewing role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	lc, err := a.lifecycle(ctx, *id)
	if err != nil {
		return err
	}
	a.print(alertSummary(lc, models.ActorRole(*role)))
	return nil
}

func (a *app) lifecycle(ctx context.Context, id string) (*lifecycle.Lifecycle, error) {
	if id == "" {
		return nil, errors.New("-alert is required")
	}
	ev, err := a.client.Alert(ctx, id)
	if err != nil {
		return nil, err
	}
	return lifecycle.New(a.client, ev, a.logger), nil
}

type alertOut struct {
	Alert        models.AlertEvent         `json:"alert"`
	Slots        []lifecycle.ResponderSlot `json:"slots"`
	SearchRadius *float64                  `json:"search_radius,omitempty"`
	Actions      lifecycle.QuickActions    `json:"actions"`
}

func alertSummary(lc *lifecycle.Lifecycle, actor models.ActorRole) alertOut {
	out := alertOut{Alert: lc.Alert(), Slots: lc.Slots(), Actions: lc.QuickActions(actor)}
	if r, ok := lc.SearchRadius(); ok {
		out.SearchRadius = &r
	}
	return out
}

func (a *app) devices(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("devices", flag.ContinueOnError)
	online := fs.String("online", "", "set device online state: true or false")
	del := fs.Bool("delete", false, "delete the device")
	register := fs.String("register", "", "register a device with this serial number")
	name := fs.String("name", "", "name for -register")
	id := fs.String("device", "", "device id for -online or -delete")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r := devices.NewRoster(a.client)
	if err := r.Load(ctx); err != nil {
		return err
	}
	switch {
	case *register != "":
		r.SetDraft(devices.Draft{Name: *name, SerialNo: *register})
		if _, err := r.SubmitDraft(ctx); err != nil {
			return err
		}
	case *del:
		if err := r.Delete(ctx, *id); err != nil {
			return err
		}
	case *online != "":
		if _, err := r.SetOnline(ctx, *id, *online == "true"); err != nil {
			return err
		}
	}
	a.print(r.Devices())
	return nil
}

func (a *app) responder(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("responder", flag.ContinueOnError)
	id := fs.String("id", "", "responder id")
	role := fs.String("role", string(models.ActorPolice), "police or hospital")
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	contact := fs.String("contact", "", "contact number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.client.ReportResponderPosition(ctx, models.Responder{
		ID:      *id,
		Role:    models.ActorRole(*role),
		Loc:     models.Coord{Lat: *lat, Lon: *lon},
		Contact: *contact,
		Online:  true,
	})
}

func (a *app) print(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		a.logger.Warn("print failed", zap.Error(err))
	}
}
