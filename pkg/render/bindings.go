package render

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/estately/dealflow/pkg/domain"
)

// Agency is the issuing office whose details appear in rendered documents.
type Agency struct {
	Name        string `yaml:"name"`
	Address     string `yaml:"address"`
	VATCode     string `yaml:"vat_code"`
	BankAccount string `yaml:"bank_account"`
	Locale      string `yaml:"locale"` // BCP 47 tag for number grouping, e.g. "nl"
}

const dateLayout = "02-01-2006" // DD-MM-YYYY

func (a Agency) printer() *message.Printer {
	tag, err := language.Parse(a.Locale)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag)
}

// FormatPrice renders a price as a locale-grouped integer.
func (a Agency) FormatPrice(n int64) string {
	return a.printer().Sprintf("%d", n)
}

// Bindings builds the full placeholder table for a scope and its
// participants. Any participant may be nil; its fields bind to "".
// Dates are formatted DD-MM-YYYY and a missing handover date binds "TBD".
func Bindings(scope domain.Scope, seller, buyer, agent *domain.Person, agency Agency, now time.Time) map[string]string {
	b := make(map[string]string, 40)

	person := func(prefix string, p *domain.Person) {
		get := func(f func(domain.Person) string) string {
			if p == nil {
				return ""
			}
			return f(*p)
		}
		b[prefix+".name"] = get(func(p domain.Person) string { return p.Name })
		b[prefix+".first_name"] = get(func(p domain.Person) string { return p.FirstName })
		b[prefix+".last_name"] = get(func(p domain.Person) string { return p.LastName })
		b[prefix+".birthday"] = get(func(p domain.Person) string { return p.Birthday })
		b[prefix+".address"] = get(func(p domain.Person) string { return p.Address })
		b[prefix+".placeofbirth"] = get(func(p domain.Person) string { return p.BirthPlace })
		b[prefix+".personal_identification_number"] = get(func(p domain.Person) string { return p.IDNumber })
		b[prefix+".vat"] = get(func(p domain.Person) string { return p.VATNumber })
		b[prefix+".bank_account"] = get(func(p domain.Person) string { return p.BankAccount })
		b[prefix+".phone"] = get(func(p domain.Person) string { return p.Phone })
		b[prefix+".mail"] = get(func(p domain.Person) string { return p.Email })
	}
	person("seller", seller)
	person("buyer", buyer)

	b["agent.name"] = ""
	b["agent.phone"] = ""
	b["agent.mail"] = ""
	if agent != nil {
		b["agent.name"] = agent.Name
		b["agent.phone"] = agent.Phone
		b["agent.mail"] = agent.Email
	}

	b["agency.name"] = agency.Name
	b["agency.address"] = agency.Address

	b["property.address"] = scope.Address
	b["property.price"] = agency.FormatPrice(scope.Price)

	b["project.number"] = ReferenceNumber(scope.ID)

	handover := "TBD"
	if !scope.HandoverDate.IsZero() {
		handover = scope.HandoverDate.Format(dateLayout)
	}
	b["project.handover_date"] = handover
	b["property.handover_date"] = handover

	b["current_date"] = now.Format(dateLayout)

	return b
}

// ReferenceNumber derives the short document reference from a scope ID.
func ReferenceNumber(scopeID string) string {
	if len(scopeID) > 8 {
		scopeID = scopeID[:8]
	}
	return strings.ToUpper(scopeID)
}
