package seeding

import (
	"context"
	"testing"

	"github.com/appetiteclub/checkout/services/order/internal/coupon"
	"github.com/appetiteclub/checkout/services/order/internal/lock"
	"github.com/appetiteclub/checkout/services/order/internal/loyalty"
	"github.com/appetiteclub/checkout/services/order/internal/memory"
	"github.com/shopspring/decimal"
)

func newDeps(withMenu bool) (Deps, *memory.Menu) {
	deps := Deps{
		Coupons: coupon.NewValidator(memory.NewCouponRepo(), nil),
		Loyalty: loyalty.NewService(memory.NewLoyaltyStore(), nil, lock.NewLocal(), nil),
	}
	var menu *memory.Menu
	if withMenu {
		menu = memory.NewMenu()
		deps.Menu = menu
	}
	return deps, menu
}

func TestApplyDemoSeeds(t *testing.T) {
	ctx := context.Background()

	t.Run("withMenu", func(t *testing.T) {
		deps, menu := newDeps(true)
		if err := ApplyDemoSeeds(ctx, deps, nil); err != nil {
			t.Fatalf("ApplyDemoSeeds() error = %v", err)
		}

		list, err := deps.Coupons.List(ctx, DemoTenantID)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(list) != 3 {
			t.Errorf("coupons = %d, want 3", len(list))
		}

		c, err := deps.Coupons.Validate(ctx, DemoTenantID, "half50", decimal.NewFromInt(25))
		if err != nil {
			t.Fatalf("Validate(HALF50) error = %v", err)
		}
		if !c.MaxDiscount.Equal(decimal.NewFromInt(40)) {
			t.Errorf("max discount = %s, want 40", c.MaxDiscount)
		}

		p, err := deps.Loyalty.GetProgram(ctx, DemoTenantID)
		if err != nil {
			t.Fatalf("GetProgram() error = %v", err)
		}
		if !p.Active || p.PointsPerCurrency != 1 || !p.CurrencyValue.Equal(decimal.NewFromInt(10)) {
			t.Errorf("program = %+v", p)
		}

		pizza, err := menu.GetProduct(ctx, DemoTenantID, DemoPizzaID)
		if err != nil {
			t.Fatalf("GetProduct() error = %v", err)
		}
		if len(pizza.Addons) != 1 || pizza.Addons[0].ID != DemoCheeseID {
			t.Errorf("pizza addons = %+v", pizza.Addons)
		}
	})

	t.Run("withoutMenu", func(t *testing.T) {
		deps, _ := newDeps(false)
		if err := ApplyDemoSeeds(ctx, deps, nil); err != nil {
			t.Fatalf("ApplyDemoSeeds() error = %v", err)
		}
		if _, err := deps.Loyalty.GetProgram(ctx, DemoTenantID); err != nil {
			t.Errorf("GetProgram() error = %v", err)
		}
	})

	t.Run("missingDeps", func(t *testing.T) {
		if err := ApplyDemoSeeds(ctx, Deps{}, nil); err == nil {
			t.Error("expected error without coupon validator and loyalty service")
		}
	})
}

func TestDemoSeedingFuncReturnsImmediately(t *testing.T) {
	deps, _ := newDeps(false)
	start := DemoSeedingFunc(context.Background(), deps, nil)
	if err := start(context.Background()); err != nil {
		t.Errorf("start hook error = %v", err)
	}
}

func TestApplyDemoSeedsTwiceKeepsCoupons(t *testing.T) {
	ctx := context.Background()
	deps, _ := newDeps(false)

	for i := 0; i < 2; i++ {
		if err := ApplyDemoSeeds(ctx, deps, nil); err != nil {
			t.Fatalf("run %d: ApplyDemoSeeds() error = %v", i+1, err)
		}
	}

	list, err := deps.Coupons.List(ctx, DemoTenantID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Errorf("coupons = %d, want 3", len(list))
	}
}
