// Command advpmd is the demo entrypoint wiring corepm.Core to a real HCI
// user-channel socket: open the device, bring up the advertising manager
// with one example extended advertiser, and let the power manager react to
// whatever classic links the controller reports.
//
// Grounded on the teacher's examples/server.go composition (open device,
// wire state-change handlers, run forever) adapted from gatt.NewDevice to
// corepm.New, and on kryptco-kr's cli.App + color-wrapped status lines for
// the command-line surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/blehost/corepm"
	"github.com/blehost/corepm/addrpolicy"
	"github.com/blehost/corepm/advdata"
	"github.com/blehost/corepm/config"
	"github.com/blehost/corepm/internal/transport"
	"github.com/blehost/corepm/keymat"
)

// memBackend is an in-memory keymat.Backend stand-in for the adapter-profile
// key/value store named in spec.md §6 ("persistent state... out of scope
// for this core"); a real host supplies NVRAM-backed storage instead.
type memBackend struct {
	mat keymat.Material
	ok  bool
}

func (b *memBackend) Load() (keymat.Material, bool, error) { return b.mat, b.ok, nil }
func (b *memBackend) Store(m keymat.Material) error {
	b.mat, b.ok = m, true
	return nil
}

func main() {
	app := &cli.App{
		Name:  "advpmd",
		Usage: "bring up LE advertising and classic power management against a real HCI controller",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Value: 0, Usage: "HCI device index (hciN)"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a JSON host config file (see config.HostConfig)"},
			&cli.StringFlag{Name: "policy", Value: "rpa", Usage: "address policy: public, static, rpa, nrpa"},
			&cli.StringFlag{Name: "api", Value: "extended", Usage: "advertising API: legacy, androidvendor, extended"},
			&cli.IntFlag{Name: "num-instances", Value: 4, Usage: "controller-reported number of advertising sets"},
			&cli.IntFlag{Name: "max-adv-len", Value: 1650, Usage: "controller-reported max advertising data length"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		log.WithField("path", path).Info(cyan("advpmd: loaded host config"))
	}

	policy, err := parsePolicy(c.String("policy"))
	if err != nil {
		return err
	}
	api, err := parseAPI(c.String("api"))
	if err != nil {
		return err
	}

	dev, err := transport.Open(c.Int("device"))
	if err != nil {
		return fmt.Errorf("open hci%d: %w", c.Int("device"), err)
	}
	fmt.Println(green(fmt.Sprintf("advpmd: opened hci%d", c.Int("device"))))

	identity := addrpolicy.Identity{}
	core := corepm.New(dev, &memBackend{}, api, c.Int("max-adv-len"), c.Int("num-instances"), policy, identity, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	corepm.RunWithGroup(gctx, g, core)
	transport.RunWithGroup(gctx, g, dev, core.HandlePacket, log)

	id, err := core.Adv.CreateExtendedAdvertiser(0, 0, exampleConfig(), 0, 0)
	if err != nil {
		return fmt.Errorf("create advertiser: %w", err)
	}
	fmt.Println(cyan(fmt.Sprintf("advpmd: advertiser %d created", id)))

	if err := core.Adv.SetData(id, false, examplePayload(), nil); err != nil {
		return fmt.Errorf("set data: %w", err)
	}
	if err := core.Adv.Enable(id, true, 0, 0); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	fmt.Println(yellow("advpmd: running, ctrl-C to stop"))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-gctx.Done():
	}
	cancel()
	return g.Wait()
}

func exampleConfig() corepm.AdvConfig {
	return corepm.AdvConfig{
		RequestedAddressType: addrpolicy.RPA,
		Connectable:          true,
		Scannable:            false,
		Discoverable:         true,
		IncludeTxPower:       true,
		TxPower:              0,
		IntervalMin:          0x0020,
		IntervalMax:          0x0040,
	}
}

func examplePayload() *advdata.Payload {
	p := &advdata.Payload{}
	_ = p.Append(advdata.TypeCompleteName, []byte("advpmd"))
	return p
}

func parsePolicy(s string) (addrpolicy.Policy, error) {
	switch s {
	case "public":
		return addrpolicy.PublicOnly, nil
	case "static":
		return addrpolicy.StaticOnly, nil
	case "rpa":
		return addrpolicy.PolicyRPA, nil
	case "nrpa":
		return addrpolicy.PolicyNRPA, nil
	default:
		return 0, fmt.Errorf("advpmd: unknown policy %q", s)
	}
}

func parseAPI(s string) (corepm.APIType, error) {
	switch s {
	case "legacy":
		return corepm.APILegacy, nil
	case "androidvendor":
		return corepm.APIAndroidVendor, nil
	case "extended":
		return corepm.APIExtended, nil
	default:
		return 0, fmt.Errorf("advpmd: unknown advertising api %q", s)
	}
}
