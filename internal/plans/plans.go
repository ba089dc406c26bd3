// Package plans содержит статический каталог тарифов и чистую функцию
// проверки лимитов.
package plans

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// Limits - включенная в план квота
type Limits struct {
	Employees int `mapstructure:"employees" json:"employees"`
	Locations int `mapstructure:"locations" json:"locations"`
}

// OverageCost - цена за единицу сверх квоты
type OverageCost struct {
	Employee float64 `mapstructure:"employee" json:"employee"`
	Location float64 `mapstructure:"location" json:"location"`
}

// Prices - идентификаторы цен у провайдера
type Prices struct {
	Monthly       string `mapstructure:"monthly" json:"monthly"`
	Yearly        string `mapstructure:"yearly" json:"yearly"`
	EmployeeUsage string `mapstructure:"employee_usage" json:"employee_usage"`
	LocationUsage string `mapstructure:"location_usage" json:"location_usage"`
}

// Plan - тарифный план
type Plan struct {
	Key         string      `mapstructure:"key" json:"key"`
	Name        string      `mapstructure:"name" json:"name"`
	Rank        int         `mapstructure:"rank" json:"rank"`
	Limits      Limits      `mapstructure:"limits" json:"limits"`
	OverageCost OverageCost `mapstructure:"overage_cost" json:"overage_cost"`
	Prices      Prices      `mapstructure:"prices" json:"prices"`
}

// Limit возвращает квоту для типа ресурса
func (p Plan) Limit(r domain.ResourceType) int {
	if r == domain.ResourceLocation {
		return p.Limits.Locations
	}
	return p.Limits.Employees
}

// UnitCost возвращает цену единицы сверх квоты
func (p Plan) UnitCost(r domain.ResourceType) float64 {
	if r == domain.ResourceLocation {
		return p.OverageCost.Location
	}
	return p.OverageCost.Employee
}

// UsagePrice возвращает id метрируемой цены для ресурса
func (p Plan) UsagePrice(r domain.ResourceType) string {
	if r == domain.ResourceLocation {
		return p.Prices.LocationUsage
	}
	return p.Prices.EmployeeUsage
}

// BasePrice возвращает id базовой цены для интервала
func (p Plan) BasePrice(interval domain.BillingInterval) string {
	if interval == domain.IntervalYear {
		return p.Prices.Yearly
	}
	return p.Prices.Monthly
}

// PriceKind - какую роль играет цена внутри плана
type PriceKind string

const (
	PriceMonthly       PriceKind = "monthly"
	PriceYearly        PriceKind = "yearly"
	PriceEmployeeUsage PriceKind = "employee_usage"
	PriceLocationUsage PriceKind = "location_usage"
)

// PriceRef - результат обратного поиска по id цены
type PriceRef struct {
	PlanKey string
	Kind    PriceKind
}

// IsBase - цена абонентской платы (месячная или годовая)
func (r PriceRef) IsBase() bool {
	return r.Kind == PriceMonthly || r.Kind == PriceYearly
}

var (
	ErrDuplicateKey   = errors.New("plans: duplicate plan key")
	ErrDuplicateRank  = errors.New("plans: duplicate plan rank")
	ErrDuplicatePrice = errors.New("plans: price id used twice")
	ErrEmptyCatalog   = errors.New("plans: catalog is empty")
)

// Catalog - неизменяемый набор планов. Строится один раз при старте.
type Catalog struct {
	plans   map[string]Plan
	ordered []Plan
	byPrice map[string]PriceRef
}

// NewCatalog проверяет планы и строит обратный индекс цена -> план.
// Ранги и ключи должны быть уникальны, иначе апгрейд и даунгрейд неразличимы.
func NewCatalog(list []Plan) (*Catalog, error) {
	if len(list) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		plans:   make(map[string]Plan, len(list)),
		byPrice: make(map[string]PriceRef, len(list)*4),
	}
	ranks := make(map[int]string, len(list))

	for _, p := range list {
		if p.Key == "" {
			return nil, fmt.Errorf("plans: plan %q has empty key", p.Name)
		}
		if _, ok := c.plans[p.Key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, p.Key)
		}
		if other, ok := ranks[p.Rank]; ok {
			return nil, fmt.Errorf("%w: %d (%s, %s)", ErrDuplicateRank, p.Rank, other, p.Key)
		}
		ranks[p.Rank] = p.Key
		c.plans[p.Key] = p

		for kind, id := range map[PriceKind]string{
			PriceMonthly:       p.Prices.Monthly,
			PriceYearly:        p.Prices.Yearly,
			PriceEmployeeUsage: p.Prices.EmployeeUsage,
			PriceLocationUsage: p.Prices.LocationUsage,
		} {
			if id == "" {
				continue
			}
			if prev, ok := c.byPrice[id]; ok {
				return nil, fmt.Errorf("%w: %s (%s/%s and %s/%s)", ErrDuplicatePrice, id, prev.PlanKey, prev.Kind, p.Key, kind)
			}
			c.byPrice[id] = PriceRef{PlanKey: p.Key, Kind: kind}
		}
	}

	c.ordered = make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		c.ordered = append(c.ordered, p)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Rank < c.ordered[j].Rank })

	return c, nil
}

// MustCatalog - NewCatalog, который паникует. Для дефолтного каталога и тестов.
func MustCatalog(list []Plan) *Catalog {
	c, err := NewCatalog(list)
	if err != nil {
		panic(err)
	}
	return c
}

// Get возвращает план по ключу
func (c *Catalog) Get(key string) (Plan, bool) {
	p, ok := c.plans[key]
	return p, ok
}

// All возвращает планы в порядке возрастания ранга
func (c *Catalog) All() []Plan {
	out := make([]Plan, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// LookupPrice - обратный поиск плана по id цены провайдера
func (c *Catalog) LookupPrice(priceID string) (PriceRef, bool) {
	ref, ok := c.byPrice[priceID]
	return ref, ok
}

// Compare сравнивает ранги двух планов: -1, 0 или 1.
// Ошибка, если какой-то из ключей неизвестен.
func (c *Catalog) Compare(from, to string) (int, error) {
	a, ok := c.plans[from]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidPlan, from)
	}
	b, ok := c.plans[to]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidPlan, to)
	}
	switch {
	case b.Rank > a.Rank:
		return 1, nil
	case b.Rank < a.Rank:
		return -1, nil
	default:
		return 0, nil
	}
}
