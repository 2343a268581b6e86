// Package seeding loads the demo tenant: its coupons, its loyalty program
// and, for the in-memory driver, a small menu.
package seeding

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/seed"
	"github.com/appetiteclub/checkout/services/order/internal/catalog"
	"github.com/appetiteclub/checkout/services/order/internal/coupon"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/loyalty"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
)

const demoSeedApplication = "checkout_demo"

var (
	DemoTenantID = uuid.MustParse("0de70000-0000-4000-8000-000000000001")
	DemoPizzaID  = uuid.MustParse("0de70000-0000-4000-8000-0000000000a1")
	DemoCheeseID = uuid.MustParse("0de70000-0000-4000-8000-0000000000b1")
	DemoBurgerID = uuid.MustParse("0de70000-0000-4000-8000-0000000000a2")
	DemoJuiceID  = uuid.MustParse("0de70000-0000-4000-8000-0000000000a3")
)

type Deps struct {
	Coupons *coupon.Validator
	Loyalty *loyalty.Service
	// Menu is filled only for the in-memory driver; with mongo the menu
	// service owns products.
	Menu interface{ Put(p catalog.Product) }
	// DB tracks applied seeds. Without it every seed runs.
	DB *mongo.Database
}

// ApplyDemoSeeds runs each demo seed once per database.
func ApplyDemoSeeds(ctx context.Context, deps Deps, logger apt.Logger) error {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if deps.Coupons == nil || deps.Loyalty == nil {
		return errors.New("coupon validator and loyalty service are required for demo seeding")
	}

	// The local menu lives in memory, so it is loaded on every start.
	if deps.Menu != nil {
		for _, p := range demoMenu() {
			deps.Menu.Put(p)
		}
	}

	seeds := buildDemoSeeds(deps)
	if deps.DB == nil {
		logger.Info("Applying demo seeds without tracker", "count", len(seeds))
		for _, s := range seeds {
			if err := s.Run(ctx); err != nil {
				return fmt.Errorf("seed %s: %w", s.ID, err)
			}
		}
		return nil
	}

	tracker := seed.NewMongoTracker(deps.DB)
	logger.Info("Applying demo seeds")
	if err := seed.Apply(ctx, tracker, seeds, demoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo seeds applied successfully")
	return nil
}

func buildDemoSeeds(deps Deps) []seed.Seed {
	return []seed.Seed{
		{
			ID:          "2026-03-01_checkout_demo_coupons",
			Description: "Create demo coupons for the demo tenant",
			Run: func(ctx context.Context) error {
				return seedCoupons(ctx, deps.Coupons)
			},
		},
		{
			ID:          "2026-03-01_checkout_demo_loyalty_program",
			Description: "Enable one point per 10.00 spent for the demo tenant",
			Run: func(ctx context.Context) error {
				return deps.Loyalty.SaveProgram(ctx, DemoTenantID, &loyalty.Program{
					PointsPerCurrency: 1,
					CurrencyValue:     decimal.NewFromInt(10),
					MinOrderValue:     decimal.NewFromInt(20),
					Active:            true,
				})
			},
		},
	}
}

func seedCoupons(ctx context.Context, v *coupon.Validator) error {
	coupons := []*coupon.Coupon{
		{Code: "WELCOME10", Description: "10% off the first order", DiscountType: money.Percentage,
			DiscountValue: decimal.NewFromInt(10), MinOrderValue: decimal.NewFromInt(30), UsageLimit: 500, Active: true},
		{Code: "HALF50", Description: "Half price, capped at 40.00", DiscountType: money.Percentage,
			DiscountValue: decimal.NewFromInt(50), MinOrderValue: decimal.NewFromInt(20), MaxDiscount: decimal.NewFromInt(40), UsageLimit: 100, Active: true},
		{Code: "FIVEOFF", Description: "5.00 off any order", DiscountType: money.Fixed,
			DiscountValue: decimal.NewFromInt(5), Active: true},
	}

	for _, c := range coupons {
		c.ID = apt.GenerateNewID()
		err := v.Create(ctx, DemoTenantID, c)
		if duplicateCode(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create coupon %s: %w", c.Code, err)
		}
	}
	return nil
}

// duplicateCode reports a coupon already created, e.g. by cmd/utils seed-demo.
func duplicateCode(err error) bool {
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Kind != fault.KindValidation {
		return false
	}
	for _, f := range fe.Fields {
		if f.Field == "code" && f.Message == "already exists" {
			return true
		}
	}
	return false
}

func demoMenu() []catalog.Product {
	return []catalog.Product{
		{
			ID: DemoPizzaID, TenantID: DemoTenantID, Name: "Margherita", Price: decimal.RequireFromString("10.00"), Active: true,
			Addons: []catalog.Addon{{ID: DemoCheeseID, Name: "Extra cheese", Price: decimal.RequireFromString("2.00"), Active: true}},
		},
		{ID: DemoBurgerID, TenantID: DemoTenantID, Name: "Smash burger", Price: decimal.RequireFromString("32.90"), Active: true},
		{ID: DemoJuiceID, TenantID: DemoTenantID, Name: "Orange juice", Price: decimal.RequireFromString("8.50"), Active: true},
	}
}

// DemoSeedingFunc runs the demo seeds in the background once the service
// starts.
func DemoSeedingFunc(seedCtx context.Context, deps Deps, logger apt.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return func(ctx context.Context) error {
		logger.Info("Starting demo checkout seeding in background")
		go func() {
			if err := ApplyDemoSeeds(seedCtx, deps, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Demo checkout seeds failed: %v", err)
			} else if err == nil {
				logger.Info("Demo checkout seeding completed successfully")
			}
		}()
		return nil
	}
}
