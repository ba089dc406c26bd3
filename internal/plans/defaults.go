package plans

// Default - тарифная сетка по умолчанию. Id цен можно переопределить в конфиге.
var Default = []Plan{
	{
		Key:         "lite",
		Name:        "Lite",
		Rank:        1,
		Limits:      Limits{Employees: 5, Locations: 1},
		OverageCost: OverageCost{Employee: 2.0, Location: 15.0},
		Prices: Prices{
			Monthly:       "price_1Secsh4ofjjgqRAvwg1M4ScO",
			Yearly:        "price_1SectZ4ofjjgqRAv7rbbkf0M",
			EmployeeUsage: "price_1SedRc4ofjjgqRAvfOLMcIgL",
			LocationUsage: "price_1SedZj4ofjjgqRAvPVWXlJUQ",
		},
	},
	{
		Key:         "starter",
		Name:        "Starter",
		Rank:        2,
		Limits:      Limits{Employees: 10, Locations: 3},
		OverageCost: OverageCost{Employee: 2.5, Location: 10.0},
		Prices: Prices{
			Monthly:       "price_1Sed5b4ofjjgqRAvBv9IASJ0",
			Yearly:        "price_1Sed8X4ofjjgqRAv6W23Ywk3",
			EmployeeUsage: "price_1SedSc4ofjjgqRAvEMxn3PIU",
			LocationUsage: "price_1SedZj4ofjjgqRAvvcvZZ2rv",
		},
	},
	{
		Key:         "growth",
		Name:        "Growth",
		Rank:        3,
		Limits:      Limits{Employees: 50, Locations: 10},
		OverageCost: OverageCost{Employee: 1.5, Location: 5.0},
		Prices: Prices{
			Monthly:       "price_1SedD44ofjjgqRAvcrJA5JLN",
			Yearly:        "price_1SedDV4ofjjgqRAvE15heEjN",
			EmployeeUsage: "price_1SedTQ4ofjjgqRAvlk6NhaOh",
			LocationUsage: "price_1SedZj4ofjjgqRAvz4xtOfib",
		},
	},
	{
		Key:         "scale",
		Name:        "Scale",
		Rank:        4,
		Limits:      Limits{Employees: 100, Locations: 20},
		OverageCost: OverageCost{Employee: 1.0, Location: 2.5},
		Prices: Prices{
			Monthly:       "price_1SedEf4ofjjgqRAvMwJJYgOO",
			Yearly:        "price_1SedF84ofjjgqRAvDUrn35cj",
			EmployeeUsage: "price_1SedTm4ofjjgqRAvExQL4Jh8",
			LocationUsage: "price_1SedZj4ofjjgqRAv5jZd92ex",
		},
	},
}
