// Command client runs one storefront execution context: it restores the
// persisted session and cart, keeps them consistent with the remote
// authority and with sibling contexts, and exposes a small line-based shell
// for exercising the flows.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/clientsync/internal/domain/cart"
	"github.com/storefront/clientsync/internal/domain/session"
	"github.com/storefront/clientsync/internal/domain/shared"
	"github.com/storefront/clientsync/internal/infrastructure/authority"
	"github.com/storefront/clientsync/internal/infrastructure/broadcast"
	"github.com/storefront/clientsync/internal/infrastructure/config"
	"github.com/storefront/clientsync/internal/infrastructure/logger"
	"github.com/storefront/clientsync/internal/infrastructure/store"
	"go.uber.org/zap"

	cartapp "github.com/storefront/clientsync/internal/application/cart"
	sessionapp "github.com/storefront/clientsync/internal/application/session"
)

// shellNotifier prints notices to the terminal
type shellNotifier struct{}

func (shellNotifier) Notify(n shared.Notice) {
	fmt.Printf("[%s] %s: %s\n", n.Severity, n.Title, n.Description)
}

func main() {
	contextID := flag.String("context", "", "execution context id; reuse one to resume its continuation token")
	flag.Parse()
	if *contextID == "" {
		*contextID = uuid.NewString()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistent store shared with sibling contexts of this profile
	st, err := store.OpenSQLiteStore(store.SQLiteStoreConfig{
		Path:         cfg.Store.Path,
		PollInterval: cfg.Sync.StorePollInterval,
	}, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	// Broadcast channel: Redis when configured, otherwise the in-process
	// hub (store-change polling still reaches cross-process siblings)
	var channel broadcast.Channel
	if cfg.Redis.Enabled() {
		redisChannel, err := broadcast.NewRedisChannel(cfg.Redis, broadcast.WithLogger(log))
		if err != nil {
			log.Fatal("failed to connect broadcast channel", zap.Error(err))
		}
		channel = redisChannel
	} else {
		channel = broadcast.NewHub(log).Open()
	}
	defer channel.Close()

	fanin := broadcast.NewFanin(channel, st, log,
		broadcast.WithMaxAge(cfg.Sync.EnvelopeMaxAge))
	defer fanin.Close()

	// Per-context continuation token: restored from, and persisted to, a
	// context-scoped record so sibling contexts keep their own linkage
	tokenKey := store.ContextTokenKey(*contextID)
	var restoredToken string
	if data, ok, err := st.Get(ctx, tokenKey); err == nil && ok {
		restoredToken = string(data)
	}

	authClient, err := authority.NewClient(authority.Config{
		BaseURL: cfg.Authority.BaseURL,
		Timeout: cfg.Authority.Timeout,
	}, log,
		authority.WithToken(restoredToken),
		authority.WithTokenListener(func(token string) {
			var err error
			if token == "" {
				err = st.Delete(ctx, tokenKey)
			} else {
				err = st.Put(ctx, tokenKey, []byte(token))
			}
			if err != nil {
				log.Warn("failed to persist continuation token", zap.Error(err))
			}
		}),
	)
	if err != nil {
		log.Fatal("failed to create authority client", zap.Error(err))
	}

	var operators sessionapp.OperatorDirectory = sessionapp.NoOperators()
	if cfg.Session.OperatorBootstrap {
		operators = sessionapp.NewBootstrapDirectory(cfg.Session.OperatorUsernames...)
	}

	notifier := shellNotifier{}

	synchronizer := sessionapp.NewSynchronizer(authClient, st, fanin, operators, notifier, sessionapp.Config{
		CacheTTL:           cfg.Session.CacheTTL,
		MaxRefreshFailures: cfg.Session.MaxRefreshFailures,
		RefreshInterval:    cfg.Session.RefreshInterval,
	}, log)
	synchronizer.OnLogout(func() {
		fmt.Println("-> redirected to the storefront landing page")
	})

	cartManager := cartapp.NewManager(authClient, st, fanin, notifier, log)

	// Both consumers hang off the single envelope-received event
	fanin.OnEnvelope(synchronizer.HandleEnvelope)
	fanin.OnEnvelope(cartManager.HandleEnvelope)
	if err := fanin.Start(ctx); err != nil {
		log.Fatal("failed to start envelope delivery", zap.Error(err))
	}

	if _, err := synchronizer.Load(ctx, false); err != nil {
		log.Warn("initial session load failed", zap.Error(err))
	}
	if err := cartManager.Load(ctx); err != nil {
		log.Warn("initial cart load failed", zap.Error(err))
	}

	go synchronizer.Run(ctx)

	runShell(ctx, synchronizer, cartManager)
}

func runShell(ctx context.Context, sync *sessionapp.Synchronizer, cartManager *cartapp.Manager) {
	fmt.Println("commands: login <user> <pass> | logout | whoami | add <id> <name> <price> <qty> | qty <id> <n> | rm <id> | items | total | clear | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return
		case "login":
			if len(fields) != 3 {
				fmt.Println("usage: login <user> <pass>")
				continue
			}
			if _, err := sync.Login(ctx, session.Credentials{Username: fields[1], Password: fields[2]}); err != nil {
				fmt.Println("login failed:", err)
			}
		case "logout":
			sync.Logout(ctx)
		case "whoami":
			if current := sync.Current(); current != nil {
				fmt.Printf("%s (%s), balance %s, cached=%v\n",
					current.DisplayName(), current.Role, current.WalletBalance, current.FromCache)
			} else {
				fmt.Println("not signed in")
			}
		case "add":
			if len(fields) != 5 {
				fmt.Println("usage: add <id> <name> <price> <qty>")
				continue
			}
			id, _ := strconv.ParseInt(fields[1], 10, 64)
			price, err := decimal.NewFromString(fields[3])
			if err != nil {
				fmt.Println("bad price:", err)
				continue
			}
			qty, _ := strconv.Atoi(fields[4])
			item := cart.LineItem{
				ProductID: id,
				Variant:   cart.VariantNone,
				Name:      fields[2],
				UnitPrice: price,
				Quantity:  qty,
			}
			if err := cartManager.Add(ctx, item); err != nil {
				fmt.Println("add failed:", err)
			}
		case "qty":
			if len(fields) != 3 {
				fmt.Println("usage: qty <id> <n>")
				continue
			}
			id, _ := strconv.ParseInt(fields[1], 10, 64)
			qty, _ := strconv.Atoi(fields[2])
			key := cart.LineKey{ProductID: id, Variant: cart.VariantNone}
			if err := cartManager.UpdateQuantity(ctx, key, qty); err != nil {
				fmt.Println("update failed:", err)
			}
		case "rm":
			if len(fields) != 2 {
				fmt.Println("usage: rm <id>")
				continue
			}
			id, _ := strconv.ParseInt(fields[1], 10, 64)
			cartManager.Remove(ctx, cart.LineKey{ProductID: id, Variant: cart.VariantNone})
		case "items":
			for _, line := range cartManager.Items() {
				fmt.Printf("  %d x %s @ %s = %s\n", line.Quantity, line.Name, line.UnitPrice, line.Subtotal())
			}
		case "total":
			fmt.Println("total:", cartManager.Total())
		case "clear":
			cartManager.Clear(ctx)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
