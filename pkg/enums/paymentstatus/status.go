package paymentstatus

type Status struct {
	Name     string
	Terminal bool
}

func (s Status) Code() string {
	return s.Name
}

type Enum struct {
	Pending   Status
	Paid      Status
	Failed    Status
	Cancelled Status
}

var Statuses = Enum{
	Pending:   Status{Name: "pending"},
	Paid:      Status{Name: "paid", Terminal: true},
	Failed:    Status{Name: "failed", Terminal: true},
	Cancelled: Status{Name: "cancelled", Terminal: true},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Paid,
	Statuses.Failed,
	Statuses.Cancelled,
}

func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

func IsTerminal(name string) bool {
	s := ByName(name)
	return s != nil && s.Terminal
}
