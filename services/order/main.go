package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/checkout/pkg"
	"github.com/appetiteclub/checkout/pkg/event"
	"github.com/appetiteclub/checkout/services/order/internal/catalog"
	"github.com/appetiteclub/checkout/services/order/internal/coupon"
	"github.com/appetiteclub/checkout/services/order/internal/customer"
	"github.com/appetiteclub/checkout/services/order/internal/lock"
	"github.com/appetiteclub/checkout/services/order/internal/loyalty"
	"github.com/appetiteclub/checkout/services/order/internal/memory"
	"github.com/appetiteclub/checkout/services/order/internal/mongo"
	"github.com/appetiteclub/checkout/services/order/internal/notify"
	"github.com/appetiteclub/checkout/services/order/internal/order"
	"github.com/appetiteclub/checkout/services/order/internal/payment"
	"github.com/appetiteclub/checkout/services/order/internal/pix"
	"github.com/appetiteclub/checkout/services/order/internal/seeding"
	"github.com/shopspring/decimal"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

const (
	appNamespace = "ORDER"
	appName      = "order"
	appVersion   = "0.1.0"
)

type stores struct {
	orders    order.Repo
	payments  payment.Repo
	coupons   coupon.Repo
	loyalty   loyalty.Store
	customers customer.Resolver
	db        *mongodriver.Database
}

func main() {
	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	seedCtx, cancelSeeds := context.WithCancel(ctx)
	defer cancelSeeds()

	var lifecycles []interface{}

	var st stores
	switch driver := config.GetStringOrDef("db.driver", "mongo"); driver {
	case "memory":
		logger.Info("Using in-memory stores, data is lost on restart")
		st = stores{
			orders:    memory.NewOrderRepo(),
			payments:  memory.NewPaymentRepo(),
			coupons:   memory.NewCouponRepo(),
			loyalty:   memory.NewLoyaltyStore(),
			customers: memory.NewCustomers(),
		}
	case "mongo":
		baseRepo := mongo.NewBaseRepo(config, logger)
		if err := baseRepo.Start(ctx); err != nil {
			log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
		}
		db := baseRepo.GetDatabase()
		if db == nil {
			log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
		}
		st = stores{
			orders:    mongo.NewOrderRepo(db),
			payments:  mongo.NewPaymentRepo(db),
			coupons:   mongo.NewCouponRepo(db),
			loyalty:   mongo.NewLoyaltyStore(db, baseRepo.TransactionsEnabled()),
			customers: mongo.NewCustomerRepo(db),
			db:        db,
		}
		lifecycles = append(lifecycles, apt.LifecycleHooks{OnStop: baseRepo.Stop})
	default:
		log.Fatalf("%s(%s) unknown db.driver %q", appName, appVersion, driver)
	}

	var locker lock.Locker = lock.NewLocal()
	if addr, _ := config.GetString("redis.addr"); addr != "" {
		redisLocker := lock.NewRedis(addr, configDuration(config, logger, "lock.expiry", 10*time.Second), logger)
		locker = redisLocker
		lifecycles = append(lifecycles, redisLocker)
	}

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	pub, err := pkg.NewNATSPublisher(natsURL)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
	}

	sub, err := pkg.NewNATSSubscriber(natsURL, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS subscriber: %v", appName, appVersion, err)
	}

	notifications := notify.NewServer(logger)

	ledger := payment.NewLedger(payment.LedgerDeps{
		Repo:      st.payments,
		Gateway:   newGateway(config, logger),
		Locker:    locker,
		Publisher: pub,
		Notifier:  notifications,
	}, logger)

	var relay *payment.WebhookRelay
	if config.GetStringOrDef("nats.stream.enabled", "false") == "true" {
		stream, err := pkg.NewNATSStream(ctx, pkg.NATSStreamConfig{
			URL:          natsURL,
			StreamName:   config.GetStringOrDef("nats.stream.name", "PAYMENT_WEBHOOKS"),
			Topic:        event.PaymentWebhooksTopic,
			ConsumerName: config.GetStringOrDef("nats.stream.consumer", "checkout-webhooks"),
			MaxAge:       72 * time.Hour,
			MaxDeliver:   20,
			Logger:       logger,
		})
		if err != nil {
			log.Fatalf("%s(%s) cannot open webhook stream: %v", appName, appVersion, err)
		}
		relay = payment.NewWebhookRelay(stream, stream, ledger, logger)
		lifecycles = append(lifecycles, relay, apt.LifecycleHooks{
			OnStop: func(context.Context) error {
				return stream.Close()
			},
		})
	}

	coupons := coupon.NewValidator(st.coupons, logger)
	loyaltyService := loyalty.NewService(st.loyalty, nil, locker, logger)

	var menu catalog.Catalog
	var localMenu *memory.Menu
	if menuURL, _ := config.GetString("services.menu.url"); menuURL != "" {
		menu = catalog.NewServiceClient(apt.NewServiceClient(menuURL))
	} else {
		logger.Info("No menu service configured, using the local demo menu")
		localMenu = memory.NewMenu()
		menu = localMenu
	}

	customers := st.customers
	if customerURL, _ := config.GetString("services.customer.url"); customerURL != "" {
		customers = customer.NewServiceClient(apt.NewServiceClient(customerURL))
	}

	var tableClient *apt.ServiceClient
	if tableURL, _ := config.GetString("services.table.url"); tableURL != "" {
		tableClient = apt.NewServiceClient(tableURL)
	}
	tableStateCache := order.NewTableStateCache(tableClient, pub, logger)
	tableStatusSub := order.NewTableStatusSubscriber(sub, tableStateCache, logger)

	orderService := order.NewService(order.ServiceDeps{
		Repo:      st.orders,
		Payments:  ledger,
		Loyalty:   loyaltyService,
		Coupons:   coupons,
		Catalog:   menu,
		Customers: customers,
		Tables:    tableStateCache,
		Locker:    locker,
		Publisher: pub,
		Notifier:  notifications,
	}, order.Settings{
		DeliveryFee:        configDecimal(config, logger, "orders.delivery_fee", decimal.Zero),
		AutoAcceptPaid:     config.GetStringOrDef("orders.auto_accept_paid", "false") == "true",
		DefaultPrepMinutes: configInt(config, logger, "orders.default_prep_minutes", 30),
	}, logger)

	ledger.SetObserver(orderService)
	loyaltyService.SetOrderSource(orderService)

	kitchenSub := order.NewKitchenTicketSubscriber(sub, orderService, logger)

	publisherLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	}

	subLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			return sub.Close()
		},
	}

	orderHandler := order.NewHandler(orderService, logger)
	paymentHandler := payment.NewHandler(payment.HandlerDeps{Ledger: ledger, Relay: relay}, config, logger)
	couponHandler := coupon.NewHandler(coupons, logger)
	loyaltyHandler := loyalty.NewHandler(loyaltyService, logger)

	demoEnabled, _ := config.GetString("seeding.demo")
	if demoEnabled == "true" {
		logger.Info("Demo seeding enabled for checkout service")
		deps := seeding.Deps{Coupons: coupons, Loyalty: loyaltyService, DB: st.db}
		if localMenu != nil {
			deps.Menu = localMenu
		}
		lifecycles = append(lifecycles, apt.LifecycleHooks{
			OnStart: seeding.DemoSeedingFunc(seedCtx, deps, logger),
			OnStop: func(context.Context) error {
				cancelSeeds()
				return nil
			},
		})
	}

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true, // Internal API service
	})
	stack = append(stack, middleware.InternalOnly())

	lifecycles = append(lifecycles,
		tableStatusSub,
		kitchenSub,
		publisherLifecycle,
		subLifecycle,
	)

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", orderHandler, paymentHandler, couponHandler, loyaltyHandler),
		apt.WithGRPCServerModules("grpc.port", notifications),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

func newGateway(config *apt.Config, logger apt.Logger) payment.Gateway {
	expiry := configDuration(config, logger, "pix.expiry", 30*time.Minute)

	switch mode := config.GetStringOrDef("pix.mode", "sandbox"); mode {
	case "http":
		url, _ := config.GetString("pix.url")
		token, _ := config.GetString("pix.token")
		return pix.NewClient(pix.ClientConfig{
			BaseURL:     url,
			Token:       token,
			Expiry:      expiry,
			Attempts:    configInt(config, logger, "pix.retry.attempts", 4),
			BaseBackoff: configDuration(config, logger, "pix.retry.base", 200*time.Millisecond),
		}, logger)
	default:
		if mode != "sandbox" {
			logger.Info("Unknown pix.mode, using sandbox", "mode", mode)
		}
		return pix.NewSandbox(pix.Merchant{
			Key:  config.GetStringOrDef("pix.merchant.key", "checkout@example.com"),
			Name: config.GetStringOrDef("pix.merchant.name", "APPETITE"),
			City: config.GetStringOrDef("pix.merchant.city", "SAO PAULO"),
		}, expiry, logger)
	}
}

func configInt(config *apt.Config, logger apt.Logger, key string, def int) int {
	raw, _ := config.GetString(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Info("Invalid integer setting, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}

func configDuration(config *apt.Config, logger apt.Logger, key string, def time.Duration) time.Duration {
	raw, _ := config.GetString(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		logger.Info("Invalid duration setting, using default", "key", key, "value", raw, "default", def.String())
		return def
	}
	return v
}

func configDecimal(config *apt.Config, logger apt.Logger, key string, def decimal.Decimal) decimal.Decimal {
	raw, _ := config.GetString(key)
	if raw == "" {
		return def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() {
		logger.Info("Invalid amount setting, using default", "key", key, "value", raw, "default", def.String())
		return def
	}
	return v
}
