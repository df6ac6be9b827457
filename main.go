// farecard reads a contactless transit card on a PC/SC reader, stores the raw card
// and prints what it found.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ebfe/scard"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/gregLibert/farecard/pkg/acquire"
	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/cepas"
	"github.com/gregLibert/farecard/pkg/classic"
	"github.com/gregLibert/farecard/pkg/keys"
	"github.com/gregLibert/farecard/pkg/pcsc"
	"github.com/gregLibert/farecard/pkg/reconcile"
	"github.com/gregLibert/farecard/pkg/store"
)

func main() {
	if err := run(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("farecard", pflag.ContinueOnError)
	configPath := flags.String("config", "farecard.yaml", "YAML configuration file")
	reader := flags.String("reader", "", "use the first reader whose name contains this")
	dbPath := flags.String("db", "", "SQLite database (overrides config)")
	technology := flags.String("technology", "", "skip probing: desfire, cepas, classic or felica")
	keyDump := flags.String("keys", "", "raw key dump to import for the card on the reader")
	keyKind := flags.String("key-kind", "A", "kind of the keys in --keys")
	list := flags.Bool("list", false, "list stored cards and exit")
	verbose := flags.BoolP("verbose", "v", false, "log every unit read")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(*configPath, flags.Changed("config"))
	if err != nil {
		return err
	}
	if flags.Changed("reader") {
		cfg.Reader = *reader
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}
	if *technology != "" {
		cfg.Technology = *technology
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	if *verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := store.Open(store.Config{Path: cfg.Database})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warnf("closing database: %v", err)
		}
	}()

	if *list {
		return listCards(ctx, db)
	}

	resolver, err := keys.NewCachedResolver(db, cfg.KeyCache.Size, cfg.KeyCache.TTL)
	if err != nil {
		return err
	}
	if err := importDumps(ctx, resolver, cfg); err != nil {
		return err
	}

	return readCard(ctx, cfg, db, resolver, *keyDump, *keyKind)
}

func readCard(ctx context.Context, cfg Config, db *store.Store, resolver keys.Resolver, dump, dumpKind string) error {
	sc, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("establishing PC/SC context: %w", err)
	}
	defer func() {
		if err := sc.Release(); err != nil {
			log.Warnf("releasing PC/SC context: %v", err)
		}
	}()

	readerName, err := pickReader(sc, cfg.Reader)
	if err != nil {
		return err
	}
	log.Infof("using reader %s, waiting up to %s for a card", readerName, cfg.Wait)
	if err := waitForCard(sc, readerName, cfg.Wait); err != nil {
		return err
	}

	sCard, err := sc.Connect(readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return fmt.Errorf("connecting to card: %w", err)
	}
	link := pcsc.NewLink(sCard)
	defer func() {
		if err := link.Close(); err != nil {
			log.Warnf("disconnecting card: %v", err)
		}
	}()

	status, err := sCard.Status()
	if err != nil {
		return fmt.Errorf("reading card status: %w", err)
	}
	tagID, err := pcsc.ReadUID(link)
	if err != nil {
		return fmt.Errorf("reading tag id: %w", err)
	}
	log.WithField("tag", tagID.String()).Infof("card present, ATR %X", status.Atr)

	if dump != "" {
		if err := importDump(ctx, resolver, tagID, cfg.Family, dump, dumpKind); err != nil {
			return err
		}
	}

	target, err := targetFor(cfg, link, status.Atr)
	if err != nil {
		return err
	}

	acq := &acquire.Acquirer{Keys: resolver, Clock: acquire.SystemClock, Log: log.StandardLogger()}
	raw, err := acq.Acquire(ctx, tagID, target)
	if err != nil {
		return err
	}

	id, err := db.SaveCard(ctx, raw)
	if err != nil {
		return err
	}
	log.WithField("id", id).Info("card stored")

	printCard(raw)
	return nil
}

func pickReader(sc *scard.Context, want string) (string, error) {
	readers, err := sc.ListReaders()
	if err != nil {
		return "", fmt.Errorf("listing readers: %w", err)
	}
	for _, r := range readers {
		if strings.Contains(r, want) {
			return r, nil
		}
	}
	if want == "" {
		return "", errors.New("no smart card reader found")
	}
	return "", fmt.Errorf("no reader matching %q among %d", want, len(readers))
}

func waitForCard(sc *scard.Context, reader string, wait time.Duration) error {
	states := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New("no card presented in time")
		}
		if err := sc.GetStatusChange(states, remaining); err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				return errors.New("no card presented in time")
			}
			return fmt.Errorf("waiting for card: %w", err)
		}
		if states[0].EventState&scard.StatePresent != 0 {
			return nil
		}
		states[0].CurrentState = states[0].EventState
	}
}

// targetFor picks the driver, from the configuration when it names one and from the
// card otherwise.
func targetFor(cfg Config, link *pcsc.Link, atr []byte) (acquire.Target, error) {
	id := pcsc.Identity{}
	if cfg.Technology != "" {
		tech, _ := card.ParseTechnology(cfg.Technology)
		id.Technology = tech
		if cfg.ClassicSize != "" {
			id.Size, _ = parseClassicSize(cfg.ClassicSize)
		}
	} else {
		var err error
		if id, err = pcsc.Detect(link, atr); err != nil {
			return nil, fmt.Errorf("detecting card: %w", err)
		}
	}

	switch id.Technology {
	case card.FileSystemTechnology:
		return acquire.FileSystem{Link: link}, nil
	case card.PurseTechnology:
		return acquire.Purse{Link: link}, nil
	case card.SectorMemoryTechnology:
		size := id.Size
		if size == 0 {
			size = classic.K1
		}
		family := cfg.Family
		if family == "" {
			family = size.String()
		}
		return acquire.SectorMemory{Tag: pcsc.NewClassicTag(link, size), Family: family}, nil
	case card.PollingServiceTechnology:
		return acquire.PollingService{Link: pcsc.NewFelicaLink(link)}, nil
	default:
		return nil, fmt.Errorf("unsupported card technology %s", id.Technology)
	}
}

func importDumps(ctx context.Context, resolver keys.Resolver, cfg Config) error {
	for _, d := range cfg.Dumps {
		tag, err := card.ParseTagID(d.Tag)
		if err != nil {
			return err
		}
		kind := d.Kind
		if kind == "" {
			kind = "A"
		}
		if err := importDump(ctx, resolver, tag, cfg.Family, d.File, kind); err != nil {
			return err
		}
	}
	return nil
}

// importDump installs the keys of a dump file as the sector slots of the bundle
// stored for tag. Keys remembered earlier stay as extra keys.
func importDump(ctx context.Context, resolver keys.Resolver, tag card.TagID, family, path, kindName string) error {
	kind, err := keys.ParseKeyKind(kindName)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading key dump: %w", err)
	}
	imported, err := keys.ParseDump(tag, family, data, kind)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	existing, err := resolver.KeysFor(ctx, tag)
	if err != nil {
		return err
	}
	bundle, changed := existing.Import(imported)
	if !changed {
		log.WithField("tag", tag.String()).Debugf("%s adds no new keys", path)
		return nil
	}
	if err := resolver.Remember(ctx, tag, bundle); err != nil {
		return err
	}
	log.WithField("tag", tag.String()).Infof("imported %d keys from %s", len(imported.Keys), path)
	return nil
}

func listCards(ctx context.Context, db *store.Store) error {
	cards, err := db.ListCards(ctx, nil)
	if err != nil {
		return err
	}
	for _, c := range cards {
		fmt.Printf("%s  %s  %-8s  %s\n", c.ID, c.ScannedAt.Format(time.RFC3339), c.Technology, c.TagID)
	}
	return nil
}

func printCard(raw *card.RawCard) {
	fmt.Printf("\n>> %s card %s scanned %s\n", raw.Technology(), raw.TagID, raw.ScannedAt.Format(time.RFC3339))

	switch p := raw.Payload.(type) {
	case *card.FileSystem:
		for _, app := range p.Applications {
			fmt.Printf("   application %06X: %d files\n", app.ID, len(app.Files))
		}
	case *card.SectorMemory:
		fmt.Printf("   %d of %d sectors unlocked\n", p.Unlocked(), len(p.Sectors))
	case *card.PollingService:
		for _, sys := range p.Systems {
			fmt.Printf("   system %04X: %d services\n", sys.Code, len(sys.Services))
		}
	case *card.PurseCard:
		for slot := range card.PurseSlots {
			purse, ok := p.Purse(slot)
			if !ok {
				continue
			}
			fmt.Printf("   purse %d  CAN %s  balance %s\n", slot, cepas.CAN(purse), money(int64(purse.Balance)))
			printTrips(cepas.Trips(purse, p.Histories[slot]))
		}
	}
}

func printTrips(trips []reconcile.Trip) {
	for _, t := range trips {
		line := fmt.Sprintf("     %s  %-6s %9s", t.Start.Format("2006-01-02 15:04"), t.Mode, money(t.Fare))
		if t.HasBalance {
			line += "  after " + money(t.BalanceAfter)
		}
		if t.StartStation != "" {
			line += "  " + t.StartStation
			if t.EndStation != "" {
				line += " > " + t.EndStation
			}
		}
		if t.Agency != "" {
			line += "  " + t.Agency
		}
		fmt.Println(line)
	}
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
